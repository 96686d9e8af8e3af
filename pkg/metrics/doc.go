/*
Package metrics defines the relayer's Prometheus collectors.

All collectors are package-level variables registered in init(), so importing
any package that increments them is enough to make them scrapeable. Handler()
exposes the standard promhttp endpoint and StartMemorySampler feeds the
process-memory gauge used by the /api/metrics endpoints.
*/
package metrics
