/*
Package log holds the relayer's zerolog root logger.

Init is called once from the entrypoint with the configured level and
format; every other package derives a child logger with WithComponent and
attaches its own fields (relay_url, event_id, bot_pubkey, tx_hash) at the
call site:

	logger := log.WithComponent("router")
	logger.Info().Str("event_id", id).Msg("event forwarded")
*/
package log
