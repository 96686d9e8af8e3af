/*
Package fanout carries per-follower push messages from the router to local
WebSocket subscribers.

Delivery is best effort end to end: the router enqueues with a non-blocking
send, the dispatcher skips subscribers whose buffers are full, and every
queued, delivered, and dropped message is counted. Nothing on this path can
stall the ingest pipeline.
*/
package fanout
