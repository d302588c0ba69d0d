// Package api exposes registration sessions over HTTP and defines the
// transport DTOs shared by the server and the CLI's --json output.
//
// # Routes
//
//	POST   /api/sessions               multipart "file" -> new Selected session
//	GET    /api/sessions               list, newest first
//	GET    /api/sessions/{id}          one session (id or unique prefix)
//	POST   /api/sessions/{id}/advance  run the next stage, or ?step=<name>
//	POST   /api/sessions/{id}/select   replace the content (multipart "file")
//	DELETE /api/sessions/{id}          remove the session and its artifacts
//	GET    /api/health                 readiness of every configured component
//
// # Errors
//
// Rejected requests answer with {"request_id", "error": {"code", "message"}}.
// A stage that ran and failed is not a rejected request: the response is 200
// with the session view, whose last_error describes the failure.
//
// # Design Notes
//
// DTOs use snake_case JSON tags to match the persisted snapshot. Timestamps use
// RFC3339 with milliseconds. The snapshot is embedded as-is so clients see the
// same variant tags the store persists.
package api
