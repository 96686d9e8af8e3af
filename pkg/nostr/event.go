package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Message kinds recognized by the relayer. Any other kind is dropped when a
// kind allow-list is configured.
const (
	KindTradeSignal         = 30931
	KindCopyTradeIntent     = 30932
	KindHeartbeat           = 30933
	KindExecutionReport     = 30934
	KindAgentRegister       = 30935
	KindPlatformKeyRotation = 39990
)

// Tag is a single event tag, e.g. ["p", "<pubkey>"]
type Tag []string

// Event is a signed message on the upstream bus. The ID is the hex SHA-256
// of the canonical serialization; PubKey is the x-only sender key in hex.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Serialize returns the canonical form used for ID computation:
// [0, pubkey, created_at, kind, tags, content] without HTML escaping.
func (e *Event) Serialize() ([]byte, error) {
	arr := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content}
	if e.Tags == nil {
		arr[4] = []Tag{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	// Encode appends a trailing newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID sets and returns the event id from the canonical serialization
func (e *Event) ComputeID() (string, error) {
	data, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	e.ID = hex.EncodeToString(sum[:])
	return e.ID, nil
}

// Sign computes the id and signs it with the given keys, filling PubKey,
// ID, and Sig. CreatedAt defaults to now when zero.
func (e *Event) Sign(keys *Keys) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	e.PubKey = keys.PublicKeyHex()

	id, err := e.ComputeID()
	if err != nil {
		return err
	}

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}

	sig, err := schnorr.Sign(keys.secretKey, idBytes)
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}

	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks the signature against the event id and sender pubkey
func (e *Event) Verify() (bool, error) {
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return false, fmt.Errorf("invalid event id: %w", err)
	}

	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return false, fmt.Errorf("invalid pubkey: %w", err)
	}

	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return false, fmt.Errorf("invalid signature: %w", err)
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("failed to parse signature: %w", err)
	}

	return sig.Verify(idBytes, pub), nil
}

// TagValue returns the value of the first tag with the given name
func (e *Event) TagValue(name string) (string, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}
