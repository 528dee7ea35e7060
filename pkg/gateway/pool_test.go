package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/pkg/core"
)

func newIdleGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(testConfig("http://127.0.0.1:1"))
	require.NoError(t, err)
	return g
}

func TestPool_Register(t *testing.T) {
	p := NewPool()
	defer p.Close()

	require.NoError(t, p.Register("main", newIdleGateway(t)))
	assert.True(t, p.Exists("main"))

	err := p.Register("main", newIdleGateway(t))
	assert.ErrorContains(t, err, "already registered")

	assert.Error(t, p.Register("", newIdleGateway(t)))
	assert.Error(t, p.Register("nil", nil))
}

func TestPool_Get(t *testing.T) {
	p := NewPool()
	defer p.Close()

	g := newIdleGateway(t)
	require.NoError(t, p.Register("main", g))

	got, err := p.Get("main")
	require.NoError(t, err)
	assert.Same(t, g, got)

	_, err = p.Get("notfound")
	assert.Error(t, err)
}

func TestPool_Names(t *testing.T) {
	p := NewPool()
	defer p.Close()

	require.NoError(t, p.Register("sub-b", newIdleGateway(t)))
	require.NoError(t, p.Register("main", newIdleGateway(t)))
	require.NoError(t, p.Register("sub-a", newIdleGateway(t)))

	assert.Equal(t, []string{"main", "sub-a", "sub-b"}, p.Names())
}

func TestPool_RemoveClosesGateway(t *testing.T) {
	p := NewPool()
	g := newIdleGateway(t)
	require.NoError(t, p.Register("main", g))

	require.NoError(t, p.Remove("main"))
	assert.False(t, p.Exists("main"))
	require.NoError(t, p.Remove("main"))

	_, err := g.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, core.ErrGatewayClosed)
}

func TestPool_AccountsHaveSeparateWindows(t *testing.T) {
	srv := newFakeBinance(t)
	p := NewPool()
	defer p.Close()

	a, _ := newTestGateway(t, testConfig(srv.URL))
	b, _ := newTestGateway(t, testConfig(srv.URL))
	require.NoError(t, p.Register("a", a))
	require.NoError(t, p.Register("b", b))

	_, err := a.GetAccountInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, a.GetQuotaSnapshot()[0].Current)
	assert.Zero(t, b.GetQuotaSnapshot()[0].Current)
}

func TestPool_StartAndClose(t *testing.T) {
	p := NewPool()
	a, b := newIdleGateway(t), newIdleGateway(t)
	require.NoError(t, p.Register("a", a))
	require.NoError(t, p.Register("b", b))

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Close())
	assert.Empty(t, p.Names())

	assert.ErrorIs(t, a.Start(context.Background()), core.ErrGatewayClosed)
}
