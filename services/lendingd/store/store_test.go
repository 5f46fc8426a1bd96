package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"moneymarket/native/lending"
	"moneymarket/native/lending/rewards"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000000b1")

func openBolt(t *testing.T) *Bolt {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "lendingd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIdempotencyExpiry(t *testing.T) {
	s := openBolt(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	rec := IdempotencyRecord{
		Caller:     alice.Hex(),
		Method:     "POST",
		Path:       "/v1/pools/usd/mint",
		StatusCode: 200,
		Body:       []byte(`{"shares":"1"}`),
		StoredAt:   now,
		ExpiresAt:  now.Add(time.Hour),
	}
	require.NoError(t, s.PutIdempotency(alice, "k1", rec))

	got, ok, err := s.GetIdempotency(alice, "k1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Body, got.Body)

	_, ok, err = s.GetIdempotency(common.Address{}, "k1", now)
	require.NoError(t, err)
	require.False(t, ok, "keys are scoped per caller")

	_, ok, err = s.GetIdempotency(alice, "k1", now.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = s.GetIdempotency(alice, "k1", now)
	require.NoError(t, err)
	require.False(t, ok, "expired entry is deleted")
}

func TestPricesRoundTrip(t *testing.T) {
	s := openBolt(t)
	require.NoError(t, s.SavePrice("usd", uint256.NewInt(1_000_000_000_000_000_000)))
	require.NoError(t, s.SavePrice("eth", uint256.NewInt(7)))
	require.NoError(t, s.SavePrice("eth", nil))

	oracle := lending.NewSimplePriceOracle()
	n, err := s.LoadPrices(oracle)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	price, ok := oracle.UnderlyingPrice("usd")
	require.True(t, ok)
	require.Equal(t, "1000000000000000000", price.Dec())
	_, ok = oracle.UnderlyingPrice("eth")
	require.False(t, ok)
}

func TestTreasuryFundAndPay(t *testing.T) {
	s := openBolt(t)
	treasury := s.Treasury()
	require.True(t, treasury.Balance().IsZero())

	funded, err := treasury.Fund(uint256.NewInt(100))
	require.NoError(t, err)
	require.True(t, funded)
	funded, err = treasury.Fund(uint256.NewInt(500))
	require.NoError(t, err)
	require.False(t, funded, "existing balance is kept")

	require.NoError(t, treasury.Pay(alice, uint256.NewInt(40)))
	require.Equal(t, uint64(60), treasury.Balance().Uint64())
	require.ErrorIs(t, treasury.Pay(alice, uint256.NewInt(61)), rewards.ErrInsufficientRewards)
	require.Equal(t, uint64(60), treasury.Balance().Uint64())
}

func TestAuditRecordAndRecent(t *testing.T) {
	audit, err := OpenAudit("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	for i, op := range []string{"mint", "borrow", "repay"} {
		require.NoError(t, audit.Record(ctx, &AuditEntry{
			Caller:     alice.Hex(),
			Operation:  op,
			Pool:       "usd",
			StatusCode: 200,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, audit.Record(ctx, &AuditEntry{Caller: "0xother", Operation: "mint", StatusCode: 409}))

	entries, err := audit.Recent(ctx, alice.Hex(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "repay", entries[0].Operation)
	require.NotEqual(t, uuid.Nil, entries[0].ID)

	all, err := audit.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
}

func TestOpenAuditRejectsDriver(t *testing.T) {
	_, err := OpenAudit("mysql", "dsn")
	require.Error(t, err)
}
