package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := configure(&buf, Options{Service: "vaultd", Env: "test", Level: slog.LevelDebug})
	logger.Debug("block applied", slog.Uint64("height", 7))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "block applied", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "vaultd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["height"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("owner", "vlt1abc").Value.String())
	require.Equal(t, "abc", MaskField("vaultId", "abc").Value.String())
	require.Equal(t, "", MaskField("owner", "").Value.String())
}

func TestMaskAddress(t *testing.T) {
	require.Equal(t, "vlt1...wxyz", MaskAddress("vlt1qqqqqqqqqqwxyz"))
	require.Equal(t, RedactedValue, MaskAddress("short"))
	require.Equal(t, "", MaskAddress("  "))
}
