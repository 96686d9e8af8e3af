/*
Package config loads the relayer's TOML configuration.

The file mirrors the deployment surface: [relay] for the upstream pool,
[deduplication] for tier sizes and the KV path, [output] for batching and the
local push port, [filters] for the kind allow-list, [postgres], [nostr],
[settlement] (with an optional [settlement.credit] block), and [monitoring].
Optional sections left out of the file disable the corresponding subsystem.

When the process starts without a config file, Default() is used directly and
the RELAY_URLS environment variable (comma-separated) supplies the bootstrap
relay list.
*/
package config
