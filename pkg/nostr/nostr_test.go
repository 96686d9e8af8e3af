package nostr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNIP04RoundTrip(t *testing.T) {
	leader, err := GenerateKeys()
	require.NoError(t, err)
	platform, err := GenerateKeys()
	require.NoError(t, err)

	plaintext := `{"agent_eth_address":"0xabc","symbol":"BTC","side":"buy","size":1,"price":100}`

	encrypted, err := leader.EncryptNIP04(platform.PublicKeyHex(), plaintext)
	require.NoError(t, err)
	assert.Contains(t, encrypted, "?iv=")
	assert.NotContains(t, encrypted, "BTC")

	decrypted, err := platform.DecryptNIP04(leader.PublicKeyHex(), encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestNIP04DecryptWrongKey(t *testing.T) {
	leader, _ := GenerateKeys()
	platform, _ := GenerateKeys()
	eavesdropper, _ := GenerateKeys()

	encrypted, err := leader.EncryptNIP04(platform.PublicKeyHex(), "secret signal")
	require.NoError(t, err)

	decrypted, err := eavesdropper.DecryptNIP04(leader.PublicKeyHex(), encrypted)
	if err == nil {
		// CBC decryption with the wrong key almost always breaks padding;
		// when it does not, the plaintext must still be garbage
		assert.NotEqual(t, "secret signal", decrypted)
	}
}

func TestNIP04MalformedPayloads(t *testing.T) {
	platform, _ := GenerateKeys()
	leader, _ := GenerateKeys()

	cases := []struct {
		name    string
		content string
	}{
		{"missing iv", "c29tZWNpcGhlcnRleHQ="},
		{"bad base64", "!!!?iv=!!!"},
		{"short iv", "c29tZWNpcGhlcnRleHQ=?iv=c2hvcnQ="},
		{"empty", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := platform.DecryptNIP04(leader.PublicKeyHex(), tc.content)
			assert.Error(t, err)
		})
	}
}

func TestEventSignAndVerify(t *testing.T) {
	keys, err := GenerateKeys()
	require.NoError(t, err)

	ev := &Event{
		Kind:      KindTradeSignal,
		CreatedAt: 1700000000,
		Content:   "payload",
		Tags:      []Tag{{"p", "deadbeef"}},
	}
	require.NoError(t, ev.Sign(keys))

	assert.Len(t, ev.ID, 64)
	assert.Len(t, ev.PubKey, 64)
	assert.Len(t, ev.Sig, 128)

	ok, err := ev.Verify()
	require.NoError(t, err)
	assert.True(t, ok)

	// Tampering breaks the id binding
	ev.Content = "tampered"
	id, err := ev.ComputeID()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	ok, err = ev.Verify()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComputeIDDeterministic(t *testing.T) {
	ev := &Event{
		PubKey:    strings.Repeat("ab", 32),
		CreatedAt: 1700000000,
		Kind:      KindHeartbeat,
		Content:   "beat",
	}

	first, err := ev.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	second, err := ev.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID failed: %v", err)
	}
	if first != second {
		t.Errorf("expected stable id, got %s then %s", first, second)
	}
}

func TestParseRelayMessage(t *testing.T) {
	frame := []byte(`["EVENT","sub-1",{"id":"abc","pubkey":"def","created_at":1700000000,"kind":30931,"tags":[],"content":"x","sig":"00"}]`)
	msg, err := ParseRelayMessage(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgEvent, msg.Type)
	assert.Equal(t, "sub-1", msg.SubID)
	require.NotNil(t, msg.Event)
	assert.Equal(t, 30931, msg.Event.Kind)
	assert.Equal(t, "abc", msg.Event.ID)

	msg, err = ParseRelayMessage([]byte(`["EOSE","sub-1"]`))
	require.NoError(t, err)
	assert.Equal(t, MsgEOSE, msg.Type)

	msg, err = ParseRelayMessage([]byte(`["OK","abc",false,"blocked: spam"]`))
	require.NoError(t, err)
	assert.False(t, msg.Accepted)
	assert.Equal(t, "blocked: spam", msg.Reason)

	_, err = ParseRelayMessage([]byte(`["UNKNOWN","x"]`))
	assert.Error(t, err)

	_, err = ParseRelayMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestReqFrameCarriesKinds(t *testing.T) {
	frame, err := ReqFrame("sub-9", Filter{Kinds: []int{30931, 30933}})
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"REQ"`)
	assert.Contains(t, string(frame), "30931")
	assert.Contains(t, string(frame), "30933")
}

func TestTagValue(t *testing.T) {
	ev := &Event{Tags: []Tag{{"e", "event-ref"}, {"p", "pubkey-ref"}}}

	val, ok := ev.TagValue("p")
	assert.True(t, ok)
	assert.Equal(t, "pubkey-ref", val)

	_, ok = ev.TagValue("d")
	assert.False(t, ok)
}
