// Package config loads, normalizes, and validates ledgermark configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PINATA_API_KEY and LEDGERMARK_CONTRACT_ADDRESS. The Config type centralizes
// every knob the CLI and API server need, so transform, storage, and ledger
// endpoints are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
