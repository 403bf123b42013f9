// Package kv provides ports.DurableStore implementations backed by memory, a
// JSON file, or a sqlite database.
package kv
