// Package fs abstracts the local file system so that tests can inject I/O
// failures.
//
// Production code uses [Default]. Tests wrap it in a [FaultyFS] and register
// rules by file-name pattern:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".liv", fs.Fault{FailAfterBytes: 16})
//
// Operations take no context: local file operations are not interruptible.
// Slow backends live behind the context-aware blobstore.Store instead.
package fs
