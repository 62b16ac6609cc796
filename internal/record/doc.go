// Package record layers typed, self-expiring records on top of a storage
// backend. A Record exposes named fields (content, state, pid and arbitrary
// blobs) and keeps created/updated/expiration stamps current on every write.
// Logs adds an append-only, timestamp-ordered log to a Record, and Factory
// creates, loads and enumerates the records of one kind, purging expired
// ones as it goes.
//
// Field writes of a single identifier are not synchronized here: one record
// has one field writer at a time by convention. Log appends may come from
// several processes; they never overwrite each other.
package record
