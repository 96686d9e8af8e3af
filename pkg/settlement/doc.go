/*
Package settlement reconciles pending trades against the chain explorer.

Every poll interval the worker fetches the oldest pending rows and probes
the explorer per tx hash: HTTP 200 confirms the trade, 404 leaves it pending
for the next tick, and any other client or server error marks it failed.
Rows without a tx hash are treated as immediately creditable. Confirmed
trades trigger the credit formula when awards are enabled; each effect is
idempotent, so the worker needs no shutdown coordination beyond process
exit.
*/
package settlement
