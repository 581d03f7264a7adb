package service

// Logging Standards for forwardbot
//
// This file defines standard field names and message patterns
// to keep logging consistent across the forwarding components.

// Standard Field Names
const (
	// Core identifiers
	LogFieldAccountID = "account_id"
	LogFieldCycleID   = "cycle_id"
	LogFieldContactID = "contact_id"
	LogFieldMessageID = "message_id"

	// Service and operation fields
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldOutcome   = "outcome"

	// Cursor and polling
	LogFieldPosition    = "position"
	LogFieldNewPosition = "new_position"
	LogFieldEvents      = "events"
	LogFieldForwarded   = "forwarded"
	LogFieldFiltered    = "filtered"

	// Message fields
	LogFieldDirection      = "direction"
	LogFieldAttachmentType = "attachment_type"
	LogFieldPhotos         = "photos"

	// Performance and counting
	LogFieldDuration  = "duration_ms"
	LogFieldCount     = "count"
	LogFieldThreshold = "threshold"
	LogFieldWorkers   = "workers"
)

// Log Level Usage Guidelines
//
// DEBUG: per-event detail (filtered contacts, resolved photo sizes, empty polls).
// INFO: worker start/stop, cursor acquisition, deregistration, forwarded batches.
// WARN: recoverable per-message problems (unresolvable attachment, failed dispatch,
//   cursor reset after a failed poll).
// ERROR: failures that end a cycle or need the operator (acquire failures,
//   repository failures, failed alerts).

// Standard Log Message Patterns
//
// Starting operations: "Starting [operation]"
// Failed operations: "Failed to [operation]"
// Skipping operations: "Skipping [operation]: [reason]"
