// Package objectstore connects a sync to a MinIO or S3 bucket.
//
// The Worker drains the transfer queue: Puts upload local files under the
// configured key prefix, Gets download objects into the sync root through a
// temporary file. The Lister turns a bucket listing into the remote index the
// engine plans against, and the Poller diffs successive listings into remote
// change notifications.
//
// Remote handles are derived from the object key and its ETag, so a new
// upload of the same key yields a new handle.
package objectstore
