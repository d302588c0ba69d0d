// Package ipfs stores artifacts on content-addressed storage and validates
// the identifiers it hands back.
//
// Two backends satisfy Backend: a pinning-service client that posts files to
// a Pinata-compatible pinFileToIPFS endpoint, and a local filesystem store
// keyed by CIDv1 (raw, sha2-256) for offline use.
package ipfs
