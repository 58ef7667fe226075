// Package pipeline implements the three stages of the digest pipeline and
// the consumer loop that drives them.
//
// Producer manufactures random datums and appends them to the ingest topic.
// Transform computes the iterated digest for each ingested datum and appends
// the result to the result topic. Sink upserts each hashed datum into the
// store keyed by id.
//
// Stages hold no state between invocations. Delivery is at-least-once:
// a batch is redelivered until its handler returns nil, and every stage's
// side effects are idempotent per datum id (re-emission of already hashed
// datums, last-write-wins upserts), so redelivery converges.
//
// Every invocation produces a Report with one RecordOutcome per input
// record. A returned error means the whole batch must be retried; errors
// scoped to a single record live in its outcome and never abort the batch.
package pipeline
