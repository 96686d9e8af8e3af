/*
Package store persists the relayer's relational state: bots, follower
subscriptions, trade executions, credit balances, the decrypted-signal audit
log, and the platform-key singleton.

The schema is created and evolved idempotently at startup (AutoMigrate plus
add-column checks for columns introduced after the initial release). Writes
that can race with replays use upserts: bot and subscription registration
overwrite on conflict, trade and signal inserts do nothing on conflict, and
credit awards accumulate with an additive conflict assignment. Column names
are wire-compatible with earlier deployments, including the misleadingly
named subscriptions.shared_secret, which stores the follower public key that
signals are re-encrypted to.
*/
package store
