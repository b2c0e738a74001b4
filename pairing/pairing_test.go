package pairing

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/readersync/types"
)

var self = &types.AnnounceMessage{DeviceID: "dev-a", DeviceName: "Laptop", Port: 8963, Protocol: "http"}

func TestURIRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := NewPayload(self, "192.168.1.10", "4242", now, 0)

	uri, err := p.URI()
	require.NoError(t, err)
	assert.Contains(t, uri, "readersync://pair?data=")

	got, err := Parse(uri, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, "192.168.1.10:8963", got.DeviceInfo().Address())
}

func TestPayloadCarriesFingerprint(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	secure := *self
	secure.Protocol = "https"
	secure.Fingerprint = "ab12"
	uri, err := NewPayload(&secure, "192.168.1.10", "", now, 0).URI()
	require.NoError(t, err)

	got, err := Parse(uri, now)
	require.NoError(t, err)
	info := got.DeviceInfo()
	assert.Equal(t, "ab12", info.Fingerprint)
	assert.Equal(t, "https", info.Protocol)
}

func TestParseRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	uri, err := NewPayload(self, "192.168.1.10", "", now, time.Minute).URI()
	require.NoError(t, err)

	_, err = Parse(uri, now.Add(2*time.Minute))
	assert.ErrorContains(t, err, "expired")

	_, err = Parse("https://example.com", now)
	assert.Error(t, err)

	_, err = Parse("readersync://pair?data=!!!", now)
	assert.Error(t, err)
}

func TestPNG(t *testing.T) {
	png, err := PNG(NewPayload(self, "192.168.1.10", "", time.Now(), 0), 128)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	text, err := Terminal(NewPayload(self, "192.168.1.10", "", time.Now(), 0))
	require.NoError(t, err)
	assert.NotEmpty(t, text)
}
