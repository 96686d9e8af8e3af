/*
Package nostr implements the subset of the upstream bus protocol the relayer
speaks: the signed event model with SHA-256 content-addressed ids and BIP-340
schnorr signatures, NIP-01 client/relay wire frames (REQ, CLOSE, EVENT, EOSE,
NOTICE, OK), and NIP-04 payload encryption (secp256k1 ECDH + AES-256-CBC,
base64 ciphertext with an "?iv=" suffix).

The platform identity is a Keys value parsed from the configured hex secret
key. It decrypts inbound leader signals (ECDH against the sender pubkey) and
re-encrypts plaintext per follower for re-publication.
*/
package nostr
