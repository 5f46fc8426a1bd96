package publisher

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"moneymarket/core/events"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func TestEmitPublishesEnvelope(t *testing.T) {
	conn := &fakeConn{}
	pub := New(conn, "moneymarket", func() uint64 { return 42 }, nil)
	fixedNow := time.Unix(1_700_000_000, 0).UTC()
	pub.now = func() time.Time { return fixedNow }

	pub.Emit(events.Minted{Pool: "usd", Amount: uint256.NewInt(100), Shares: uint256.NewInt(50)})

	require.Len(t, conn.msgs, 1)
	require.Equal(t, "moneymarket."+events.TypeMint, conn.msgs[0].subject)
	var env Envelope
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &env))
	require.Equal(t, events.TypeMint, env.Type)
	require.Equal(t, uint64(42), env.Height)
	require.Equal(t, "usd", env.Attributes["pool"])
	require.Equal(t, "100", env.Attributes["amount"])
	require.True(t, env.Time.Equal(fixedNow))
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	conn := &fakeConn{err: errors.New("disconnected")}
	pub := New(conn, "moneymarket", nil, nil)
	require.NotPanics(t, func() { pub.Emit(events.Minted{Pool: "usd"}) })

	var disabled *NATS
	require.NotPanics(t, func() { disabled.Emit(events.Minted{}) })
}
