// Package testutil provides fixtures shared by package tests: throwaway
// logs and stores, deterministic ids, and fault-injecting fakes for the
// log and store interfaces the pipeline stages depend on.
package testutil
