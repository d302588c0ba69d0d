// Package main hosts the ledgermark CLI entrypoint and command graph.
//
// Every pipeline command performs exactly one request against a persisted
// session: `session new` selects content, `session advance` runs one stage,
// and nothing chains stages on its own. Sessions live in SQLite under the log
// directory so consecutive invocations pick up where the previous one left
// off.
//
// Keep this package lean: add behaviour to the internal packages first, then
// surface it here through a dedicated command or flag.
package main
