package republish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moltrade/relayer/pkg/log"
	"github.com/moltrade/relayer/pkg/nostr"
)

// BusPublisher sends a signed event to the upstream relays. Implemented by
// the relay pool.
type BusPublisher interface {
	Publish(ev *nostr.Event) error
}

// Republisher emits platform-signed events: per-follower re-encrypted copies
// of inbound signals, and plaintext platform notices.
type Republisher struct {
	keys   *nostr.Keys
	bus    BusPublisher
	logger zerolog.Logger
}

// New creates a republisher around the platform keys and a bus publisher
func New(keys *nostr.Keys, bus BusPublisher) *Republisher {
	return &Republisher{
		keys:   keys,
		bus:    bus,
		logger: log.WithComponent("republish"),
	}
}

// RepublishToFollower re-encrypts the plaintext for one follower and
// publishes it under the original kind with a recipient tag
func (r *Republisher) RepublishToFollower(originalKind int, followerPubkey, plaintext string) error {
	encrypted, err := r.keys.EncryptNIP04(followerPubkey, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt for follower %s: %w", followerPubkey, err)
	}

	ev := &nostr.Event{
		Kind:    originalKind,
		Content: encrypted,
		Tags:    []nostr.Tag{{"p", followerPubkey}},
	}
	if err := ev.Sign(r.keys); err != nil {
		return fmt.Errorf("failed to sign republished event: %w", err)
	}
	if err := r.bus.Publish(ev); err != nil {
		return fmt.Errorf("failed to publish to follower %s: %w", followerPubkey, err)
	}
	return nil
}

// keyRotationNotice is the plaintext payload of a PlatformKeyRotation event
type keyRotationNotice struct {
	Op             string `json:"op"`
	NewPubkey      string `json:"new_pubkey"`
	PreviousPubkey string `json:"previous_pubkey,omitempty"`
	Ts             int64  `json:"ts"`
}

// PublishKeyRotation broadcasts a platform key change notice
func (r *Republisher) PublishKeyRotation(newPubkey, previousPubkey string) error {
	content, err := json.Marshal(keyRotationNotice{
		Op:             "platform_key_rotation",
		NewPubkey:      newPubkey,
		PreviousPubkey: previousPubkey,
		Ts:             time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode rotation notice: %w", err)
	}

	ev := &nostr.Event{
		Kind:    nostr.KindPlatformKeyRotation,
		Content: string(content),
	}
	if err := ev.Sign(r.keys); err != nil {
		return fmt.Errorf("failed to sign rotation notice: %w", err)
	}
	if err := r.bus.Publish(ev); err != nil {
		return fmt.Errorf("failed to publish rotation notice: %w", err)
	}

	r.logger.Info().Str("new_pubkey", newPubkey).Msg("platform key rotation published")
	return nil
}
