// Package store persists finished datums in a badger key-value database.
//
// Each record lives under "<table>/<id>", so a single badger directory can
// hold several logical tables. Writes are full-record overwrites keyed by
// datum id: a replayed sink write produces the same final state as the
// first one.
package store
