// Package localtree mirrors a watched directory in memory.
//
// A Tree owns every Node of one sync. Nodes refer to their parent by slot id
// rather than by pointer, and the IdentityIndex maps filesystem identities
// (inode numbers on unix) to slot ids, which is what lets a rename or a move
// be recognized as the same node instead of a delete followed by a create.
//
// # Records
//
// Serialize and Unserialize convert a node to and from the binary record kept
// in the state cache. The layout is, little-endian:
//
//	kindSize     int64   file size, or -kind for folders
//	parentRowID  uint32
//	fsid         8 bytes
//	flags        1 byte  bit 0: syncable
//	name         uint16 length + bytes
//	fingerprint  16 bytes           (files only)
//	mtime        compressed uint64  (files only)
//	expansion    8 bytes            flag 0: pending upload
//
// The record carries no version; the store keeps FormatVersion next to it.
//
// # Scanning
//
// Scanner enumerates one directory through afero. Tree.Apply folds the
// entries of a directory into the tree and reports the resulting Changes.
// Nodes a scan did not see are only removed by Tree.Sweep once the whole
// batch has been applied, so an entry moved between two directories of the
// same batch is never reported as removed.
//
// Content comparison is probabilistic: size and modification time decide,
// and a Fingerprint of sampled blocks is consulted when the recorded
// fingerprint was taken too close to the modification time to trust it.
package localtree
