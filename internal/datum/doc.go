// Package datum defines the record that flows through the digest pipeline.
//
// A Datum is created by the producer with no digest, receives its digest
// exactly once in the transform stage, and is persisted by the sink. The
// digest field is write-once: WithDigest returns a new copy and refuses to
// replace an existing digest, which keeps redelivered records idempotent.
//
// Datums cross stage boundaries as self-describing payloads produced by a
// Codec. JSONCodec is the default and uses the field names
// ("uuid", "doc", "hashes", "hash") that earlier versions of the pipeline put
// on the wire; CBORCodec carries the same fields in deterministic CBOR.
package datum
