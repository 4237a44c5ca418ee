package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactXpubShortensLongValues(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"short value passed through", "xpub1", "xpub1"},
		{"exactly twelve chars passed through", "abcdefghijkl", "abcdefghijkl"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, redactXpub(tc.in))
		})
	}

	long := "xpub6CUGRUonZSQ4TJyXZExn9Gwc37YGtvBEQfhwbefjq31BMnv"
	got := redactXpub(long)
	assert.Equal(t, long[:8]+"..."+long[len(long)-4:], got)
	assert.NotContains(t, got, long[10:len(long)-10], "the middle of the xpub must not appear in the redacted form")
}

func TestWithWalletRedactsXpubInLogOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	long := "xpub6CUGRUonZSQ4TJyXZExn9Gwc37YGtvBEQfhwbefjq31BMnv"
	WithWallet(long).Info().Msg("refreshed wallet")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotEqual(t, long, entry["xpub_van"])
	assert.Equal(t, long[:8]+"..."+long[len(long)-4:], entry["xpub_van"])
}

func TestWithComponentAddsComponentField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	WithComponent("supervisor").Info().Msg("starting")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "supervisor", entry["component"])
}

func TestInitDefaultsUnknownLevelToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Level("bogus"), JSONOutput: true, Output: &buf})

	Logger.Debug().Msg("should not appear")
	assert.Empty(t, buf.String(), "an unrecognized level should fall back to info, suppressing debug output")

	Logger.Info().Msg("should appear")
	assert.NotEmpty(t, buf.String())
}
