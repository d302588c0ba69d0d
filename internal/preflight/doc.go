// Package preflight checks the filesystem paths ledgermark writes to.
//
// The CLI "health" command and GET /api/health report these next to the
// pipeline component checks. A staging or log directory that cannot be
// written fails every session advance, so it is surfaced before one starts.
package preflight
