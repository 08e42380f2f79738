// Package blobstore is the directory abstraction live-docs files and commit
// files are written to.
//
// Implementations:
//
//   - LocalStore: a directory on the local file system
//   - MemoryStore: an in-process map, for tests and ephemeral writers
//   - s3.Store and minio.Store: object storage
//
// A WritableBlob becomes visible under its name only on a successful Close.
// Abort discards it. TrackingStore records the names a caller created so that
// a failed multi-file write can be cleaned up.
package blobstore
