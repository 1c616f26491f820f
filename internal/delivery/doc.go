// Package delivery implements the optimistic outbound send protocol.
//
// # Protocol
//
// Every send runs three phases:
//
//  1. Stage: a Pending entry with a temporary ID is appended to the
//     conversation's outbox, immediately visible in the sequence.
//  2. Dispatch: the external gateway is invoked with a bounded timeout.
//     Timeouts count as failures.
//  3. Reconcile: on success the message is persisted with a durable ID and
//     the staged entry is swapped in place (same position, new identity).
//     On failure the staged entry is removed and the draft is returned to
//     the caller inside a SendError.
//
// After reconciliation the conversation's message sequence contains exactly
// one entry for the send. After rollback it is byte-identical to its state
// before staging.
//
// # Media
//
// Attachments are validated against the size ceiling and uploaded to blob
// storage before anything is staged, so an upload failure leaves no trace.
// The staged entry carries a local preview URL until the durable URL is
// confirmed.
//
// # Audio
//
// Recorder is a small state machine (idle, recording, stopped) over an
// injectable CaptureDevice. Stopping produces a previewable clip without
// transmitting anything; the operator then discards or confirms it into the
// send protocol. Cancelling releases the device without the stop path.
package delivery
