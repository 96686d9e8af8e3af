/*
Package relaypool maintains the upstream relay connections feeding the event
router.

Each relay URL owns one connection moving through Disconnected, Connecting,
Connected, Subscribed, and Failed. A successful dial immediately issues a REQ
carrying the configured kind allow-list; the same list is re-applied at
receive time since not every relay honors filters. All readers fan in to a
single buffered channel consumed by the router.

I/O errors drop the connection back to Disconnected and start an exponential
backoff reconnect loop; graceful disconnects are terminal until the relay is
re-added. The health sweep forces reconnection of any subscribed relay that
has been silent for twice the check interval, and keeps the active-connection
gauge current.
*/
package relaypool
