// Package storage wraps the MinIO client used as the remote side of a sync.
//
// Client is the narrow interface the rest of the module depends on; a testify
// mock lives in core/storage/mocks. ObjectKey and RelativePath translate
// between sync-relative paths and object keys under the configured prefix.
package storage
