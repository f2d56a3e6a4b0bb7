// Package memkv is a small sharded in-memory key/value store with per-key
// TTLs. It backs the peer/topology registry; expiry is lazy (checked on
// access) plus an explicit SweepExpired for periodic maintenance, so there is
// no background goroutine to manage.
package memkv
