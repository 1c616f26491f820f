// Package store provides persistence for the inbox core.
//
// The Store interface covers the Conversation Store (one row per external
// contact thread), the Assignment Ledger (one ownership episode per
// conversation at a time), agents, append-only messages, and the tag and
// department labels.
//
// SQLiteStore is the production implementation. The two invariants the
// schema itself enforces:
//
//   - a partial unique index allows at most one non-closed assignment per
//     conversation, so concurrent opens and claims have a single arbiter
//   - ClaimAssignment and TransferAssignment run capacity counting and the
//     ownership write in one transaction, making the check-and-set atomic
//
// All timestamps are stored as RFC 3339 text in UTC.
package store
