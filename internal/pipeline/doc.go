// Package pipeline implements the content-registration state machine.
//
// A Controller owns one ContentItem and drives it through duplicate check,
// fingerark embedding, storage upload, and ledger registration. Each stage
// variant (Selected, Checked, Embedded, Stored, Registered, and the terminal
// AlreadyRegistered) carries only the data valid at that point, so an upload
// without an embedding or a registration without a receipt cannot be
// expressed.
//
// Every Advance performs exactly one stage against one external service. A
// failure records the error with the stage it occurred in and moves the
// state back at most one stage; the controller never retries on its own.
// Stage components are injected through the Stages interfaces so the
// controller can be exercised without a network.
package pipeline
