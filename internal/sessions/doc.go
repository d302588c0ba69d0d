// Package sessions persists pipeline sessions between CLI invocations.
//
// Each session is a row in the SQLite database under the log directory plus a
// staging directory holding the original and transformed artifact bytes. A
// per-session lock file serializes advances across processes.
package sessions
