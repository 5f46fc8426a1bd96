package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithOptionsWritesJSONAndFile(t *testing.T) {
	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "lendingd.log")
	logger, closer := SetupWithOptions(Options{Service: "lendingd", Env: "test", Level: "debug", File: file, Output: &buf})
	logger.Debug("accrued", slog.String("pool", "usd"), MaskField("idempotency_key", "abc"))
	require.NoError(t, closer.Close())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "accrued", line["message"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "usd", line["pool"])
	require.Equal(t, RedactedValue, line["idempotency_key"])

	contents, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, buf.String(), string(contents))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "usd", MaskField("pool", "usd").Value.String())
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer x").Value.String())
	require.Equal(t, " ", MaskField("authorization", " ").Value.String())
	require.Contains(t, RedactionAllowlist(), "request_id")
}
