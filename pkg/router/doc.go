/*
Package router is the relayer's central pipeline.

Inbound events pass the kind allow-list and the deduplication gate, then sit
in a pending buffer until a flush fires on batch size or the latency timer.
Each flush drains the oldest events in ascending created_at order and runs
them through: a 10-minute staleness gate, a throttled heartbeat side effect,
the kind classifier (bot registration, or decrypt + persist + two-path
fanout for trade-bearing kinds), downstream delivery, and finally the dedup
record that makes the forward durable.

Within one flush the downstream sequence is sorted by created_at; across
flushes there is no global ordering. On stream close the remaining buffer is
drained to downstream in timestamp order without classification, preserving
the long-standing shutdown behavior.
*/
package router
