/*
Package republish emits the platform's own bus events: inbound signals
re-encrypted per follower (NIP-04 to the follower key, original kind, "p"
recipient tag) and plaintext PlatformKeyRotation notices. Failures are
per-event; the router treats them as one follower's loss, not a pipeline
error.
*/
package republish
