/*
Package kvstore provides the bbolt-backed durable tier of the deduplication
engine.

Two buckets are kept in a single database file: "events" maps raw event id
bytes to a one-byte marker and answers the authoritative "seen before?"
lookup; "forward_index" maps a monotonic sequence to the id so the newest N
forwarded ids can be scanned in reverse on warm start. No cross-bucket
transaction is needed: a crash between the two writes costs at worst one
redundant downstream send, which the relational store's unique keys absorb.
*/
package kvstore
