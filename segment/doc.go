// Package segment describes the immutable segments that deferred mutations are
// resolved against.
//
// It holds the value types shared by every layer (Term, CommitInfo,
// FieldInfos), the read-side interfaces a resolver consumes (Reader,
// TermsEnum, Query, Bits), and MemReader, an in-memory Reader used by tests
// and by callers that keep small segments resident.
package segment
