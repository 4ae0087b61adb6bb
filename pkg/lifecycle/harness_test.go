package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groot1121/secure-token-gateway/pkg/credential"
	"github.com/groot1121/secure-token-gateway/pkg/gateway/gatewaytest"
	"github.com/groot1121/secure-token-gateway/pkg/keys"
	"github.com/groot1121/secure-token-gateway/pkg/store"
)

// epoch is the fake clock's start; tokens minted at epoch have iat=epoch.
var epoch = time.Unix(1_700_000_000, 0)

const testLifetime = 100 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = epoch.Add(offset)
}

type harness struct {
	clock     *fakeClock
	srv       *gatewaytest.Server
	backing   store.Store
	custodian *keys.Custodian
	creds     *credential.Store
	engine    *Engine
	id        credential.Identity
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness wires an engine to an in-process gateway sharing a fake clock.
func newHarness(t *testing.T, srvOpts []gatewaytest.Option, opts ...Option) *harness {
	t.Helper()

	clock := &fakeClock{now: epoch}
	srvOpts = append([]gatewaytest.Option{
		gatewaytest.WithClock(clock.Now),
		gatewaytest.WithLifetime(testLifetime),
	}, srvOpts...)
	srv, err := gatewaytest.New(srvOpts...)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	h := &harness{
		clock:   clock,
		srv:     srv,
		backing: store.NewMemoryStore(),
		id:      credential.Identity{UserID: "user1", DeviceID: "deviceA"},
	}
	h.custodian = keys.NewCustodian(h.backing, keys.WithLogger(discardLogger()))
	h.creds, err = credential.Open(h.backing)
	require.NoError(t, err)

	opts = append([]Option{
		WithClock(clock.Now),
		WithLogger(discardLogger()),
		WithStateStore(h.backing),
	}, opts...)
	h.engine, err = New(srv.Client(), h.custodian, h.creds, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { h.engine.Close() })
	return h
}

// activate registers and issues, returning the first token.
func (h *harness) activate(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.engine.Register(ctx, h.id))
	token, err := h.engine.Issue(ctx, h.id)
	require.NoError(t, err)
	return token
}
