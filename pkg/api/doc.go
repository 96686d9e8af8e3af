/*
Package api serves the relayer's admin surface on echo: health and status,
the Prometheus scrape endpoint, relay pool management, bot and subscription
administration, trade recording and settlement updates (optionally guarded
by X-Settlement-Token), credit queries, and the /ws push endpoint streaming
fanout messages to local followers.

Data endpoints return 503 when no relational store is configured, matching
deployments that run the relayer as a pure forwarder.
*/
package api
