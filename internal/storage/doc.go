// Package storage keeps an append-only journal of what the rule engine did:
// every publish it sent and every callback that failed.
//
// The journal is a diagnostic trail, not state; nothing is replayed from it
// at startup.
package storage
