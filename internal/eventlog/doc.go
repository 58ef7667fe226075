// Package eventlog provides the durable, ordered, replayable log that
// connects pipeline stages.
//
// The log is a set of named topics stored in SQLite. Each topic is an
// append-only sequence of (key, payload) entries numbered by a per-topic
// seq starting at 1. Consumers track their position per (topic, group) in
// consumer_offsets; an offset is the last seq the group fully processed.
//
// # Delivery
//
//   - Append assigns consecutive seq values inside one transaction and
//     reports a per-entry outcome, so a caller can tell how many entries of
//     a batch were accepted.
//   - Read returns entries strictly after a seq, ordered by seq ASC.
//   - Commit only moves an offset forward. Re-reading from an uncommitted
//     offset redelivers the same entries (at-least-once).
//   - ResetOffset moves an offset anywhere, including backwards, to replay.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - BEGIN IMMEDIATE transactions so concurrent appenders in different
//     processes queue on the write lock instead of failing on upgrade
//
// Payloads may be zstd-compressed; the compression tag is stored per entry
// so a log written with mixed settings stays readable.
package eventlog
