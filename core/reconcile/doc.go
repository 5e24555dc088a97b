// Package reconcile keeps a local directory and its cached tree in step.
//
// An Engine owns one sync: it restores the tree from the Store, scans the
// root with a pool of scanning threads, folds every listing into the tree,
// persists the resulting mutations in batches and queues uploads for new or
// modified files. Afterwards it monitors the directory through a Watcher and
// rescans only the folders reported to have changed.
//
// # States
//
//	Initializing -> Scanning -> Monitoring <-> Scanning
//	any          -> Suspended -> Scanning
//	any          -> Failed
//
// A directory that cannot be read moves the sync to Failed with a
// FilesystemIOError. Single entries that cannot be examined are retried a few
// times and then reported through Listener.OnEntryError without failing the
// sync.
//
// # Remote side
//
// When a RemoteCache is configured the first full scan is compared with the
// remote listing (see BuildPlan). Later remote changes arrive through
// NotifyRemote. Paths changed on both sides are handed to the ConflictPolicy.
package reconcile
