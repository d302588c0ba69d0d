// Package services defines shared utilities consumed by the pipeline stages
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so every stage reports
//     failures with the same taxonomy (validation, transport, service,
//     duplicate content, and the signing failures).
//   - ServiceError for non-success responses from the transform service, the
//     storage network, and the ledger node.
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services
