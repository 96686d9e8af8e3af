/*
Package dedup implements the tiered deduplication engine guaranteeing
at-most-once forwarding of upstream events across restarts.

Tier order on lookup: hot set (FIFO of the newest forwarded ids), bloom
filter (a miss short-circuits to "not a duplicate"), LRU cache of confirmed
ids, and finally the durable KV index. RecordForwarded writes all four tiers
plus the forward index used by WarmFromStore after a restart.

IsDuplicate and RecordForwarded are not atomic as a pair. Two concurrent
observations of one id can both pass the check and be forwarded twice; the
relational store's unique keys make the second write a no-op, so the race is
tolerated instead of locked.
*/
package dedup
