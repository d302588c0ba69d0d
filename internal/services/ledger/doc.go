// Package ledger binds the ContentRegistry contract and the signing
// capability used to register content on it.
//
// SigningSession abstracts the wallet (accounts, fee estimation, signing and
// submission); RPCSession implements it over an Ethereum JSON-RPC endpoint.
// LedgerClient estimates, submits, and waits for registration transactions,
// classifying every failure as estimation, declined, or submission so callers
// know whether a ledger mutation may have happened. Registry provides the
// read-only lookups behind the records and verify commands.
package ledger
