package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer x ,, bad, =skip,team=lending")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "team": "lending"}, got)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitDisabledSignals(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	ledger, err := NewLedger()
	require.NoError(t, err)
	_, finish := ledger.Start(context.Background(), "mint", "usd")
	finish("")
	_, finish = ledger.Start(context.Background(), "borrow", "usd")
	finish("insufficient_liquidity")
}

func TestSamplerBounds(t *testing.T) {
	require.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
