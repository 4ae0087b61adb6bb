package lifecycle

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groot1121/secure-token-gateway/pkg/codec"
	"github.com/groot1121/secure-token-gateway/pkg/credential"
	"github.com/groot1121/secure-token-gateway/pkg/gateway"
	"github.com/groot1121/secure-token-gateway/pkg/gateway/gatewaytest"
	"github.com/groot1121/secure-token-gateway/pkg/keys"
	"github.com/groot1121/secure-token-gateway/pkg/pop"
	"github.com/groot1121/secure-token-gateway/pkg/poperr"
	"github.com/groot1121/secure-token-gateway/pkg/store"
)

func jtiOf(t *testing.T, token string) string {
	t.Helper()
	claims, err := codec.DecodeClaims(token)
	require.NoError(t, err)
	return claims.JTI
}

func TestNewRejectsBadSettings(t *testing.T) {
	t.Parallel()

	creds := credential.New()
	custodian := keys.NewCustodian(store.NewMemoryStore())
	for _, f := range []float64{0, -0.1, 1.01} {
		_, err := New(nil, custodian, creds, WithThreshold(f))
		assert.Error(t, err, "threshold %v", f)
	}
	_, err := New(nil, custodian, creds, WithPollInterval(0))
	assert.Error(t, err)

	e, err := New(nil, custodian, creds, WithThreshold(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, e.Threshold())
	assert.Equal(t, StateUnregistered, e.State())
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	t.Log("register(user1, deviceA, pem)")
	require.NoError(t, h.engine.Register(ctx, h.id))
	assert.Equal(t, StateRegistered, h.engine.State())
	pem, err := h.custodian.PublicKeyPEM()
	require.NoError(t, err)
	assert.Equal(t, pem, h.srv.RegisteredKey("user1", "deviceA"))

	t.Log("issue returns J1")
	t1, err := h.engine.Issue(ctx, h.id)
	require.NoError(t, err)
	j1 := jtiOf(t, t1)
	assert.Equal(t, StateActive, h.engine.State())

	t.Log("access signed over ACCESS:J1 succeeds")
	body, err := h.engine.Access(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, string(body), "Access granted")

	t.Log("rotate returns J2")
	t2, err := h.engine.Rotate(ctx)
	require.NoError(t, err)
	j2 := jtiOf(t, t2)
	assert.NotEqual(t, j1, j2)
	assert.Equal(t, t2, h.creds.Token())

	t.Log("replaying the ACCESS:J1 signature with the current token is rejected")
	signer := pop.NewSigner(h.custodian)
	staleSig, err := signer.SignOperation(pop.KindAccess, j1)
	require.NoError(t, err)
	_, err = h.srv.Client().Access(ctx, "", t2, staleSig)
	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	t.Log("the engine re-derives jti from the current token, so its access succeeds")
	_, err = h.engine.Access(ctx, "")
	require.NoError(t, err)
}

func TestIssueBeforeRegister(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	_, err := h.engine.Issue(context.Background(), h.id)
	assert.ErrorIs(t, err, poperr.ErrNotRegistered)
	assert.Equal(t, 0, h.srv.Count(gateway.PathIssueToken), "usage error must not reach the gateway")
	assert.Equal(t, StateUnregistered, h.engine.State())
}

func TestIssueForDifferentIdentity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.Register(ctx, h.id))

	_, err := h.engine.Issue(ctx, credential.Identity{UserID: "user1", DeviceID: "deviceB"})
	assert.ErrorIs(t, err, poperr.ErrNotRegistered)
}

func TestIssueRefusedByGateway(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.engine.Register(ctx, h.id))

	h.srv.FailNext(gateway.PathIssueToken, http.StatusForbidden, "Device not registered")
	_, err := h.engine.Issue(ctx, h.id)
	assert.ErrorIs(t, err, poperr.ErrNotRegistered)
	assert.Equal(t, StateRegistered, h.engine.State())
}

func TestRegisterValidatesIdentity(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	err := h.engine.Register(context.Background(), credential.Identity{UserID: "user1"})
	assert.ErrorIs(t, err, credential.ErrInvalidIdentity)
	assert.False(t, h.custodian.HasKey(), "no key is generated for an invalid identity")
}

func TestRegisterIsIdempotentForKeys(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.engine.Register(ctx, h.id))
	first := h.srv.RegisteredKey("user1", "deviceA")
	require.NoError(t, h.engine.Register(ctx, h.id))
	assert.Equal(t, first, h.srv.RegisteredKey("user1", "deviceA"))
}

func TestRegisterSurfacesConflict(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	h.srv.FailNext(gateway.PathRegisterDevice, http.StatusConflict, "device already bound")
	err := h.engine.Register(context.Background(), h.id)
	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, 1, h.srv.Count(gateway.PathRegisterDevice), "no retry loop")
	assert.Equal(t, StateUnregistered, h.engine.State())
	_, ok := h.engine.Identity()
	assert.False(t, ok)
}

func TestReregisterNewIdentityDropsToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	h.activate(t)

	other := credential.Identity{UserID: "user1", DeviceID: "deviceB"}
	require.NoError(t, h.engine.Register(ctx, other))
	assert.Empty(t, h.creds.Token())
	assert.Equal(t, StateRegistered, h.engine.State())
	id, _ := h.engine.Identity()
	assert.Equal(t, other, id)
}

func TestAccessIsReadOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	token := h.activate(t)

	for i := 0; i < 3; i++ {
		_, err := h.engine.Access(context.Background(), "/resources/x")
		require.NoError(t, err)
	}
	assert.Equal(t, token, h.creds.Token())
	assert.Equal(t, 0, h.srv.Count(gateway.PathRotateToken))
}

func TestAccessWithoutToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	require.NoError(t, h.engine.Register(context.Background(), h.id))

	_, err := h.engine.Access(context.Background(), "")
	assert.ErrorIs(t, err, poperr.ErrNoCurrentToken)
	assert.True(t, poperr.IsLocal(err))
	assert.Equal(t, 0, h.srv.Count(gateway.PathProtected))
}

func TestAccessDenied(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.activate(t)

	h.srv.FailNext(gateway.PathProtected, http.StatusForbidden, "PoP verification failed")
	_, err := h.engine.Access(context.Background(), "")
	assert.ErrorIs(t, err, poperr.ErrAccessDenied)
	assert.Equal(t, 1, h.srv.Count(gateway.PathProtected), "denials are not retried")

	h.srv.Revoke("user1", "deviceA")
	_, err = h.engine.Access(context.Background(), "")
	assert.ErrorIs(t, err, poperr.ErrAccessDenied)
}

func TestSigningFailsFastWithoutKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.activate(t)

	require.NoError(t, h.custodian.Reset())
	_, err := h.engine.Access(context.Background(), "")
	assert.ErrorIs(t, err, poperr.ErrKeyUnavailable)
	_, err = h.engine.Rotate(context.Background())
	assert.ErrorIs(t, err, poperr.ErrKeyUnavailable)
	assert.Equal(t, 0, h.srv.Count(gateway.PathProtected))
	assert.Equal(t, 0, h.srv.Count(gateway.PathRotateToken))
}

func TestRotationIsAtomicOnRejection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	before := h.activate(t)

	h.srv.FailNext(gateway.PathRotateToken, http.StatusForbidden, "PoP verification failed")
	_, err := h.engine.Rotate(context.Background())
	assert.ErrorIs(t, err, poperr.ErrAccessDenied)
	assert.Equal(t, before, h.creds.Token(), "token after a rejected rotation equals token before")
	assert.Equal(t, StateActive, h.engine.State())

	h.srv.FailNext(gateway.PathRotateToken, http.StatusInternalServerError, "boom")
	_, err = h.engine.Rotate(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, h.creds.Token())

	persisted, err := h.backing.Get(store.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, before, string(persisted))
}

func TestRotationIsAtomicOnNetworkError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	before := h.activate(t)

	h.srv.Close()
	_, err := h.engine.Rotate(context.Background())
	assert.ErrorIs(t, err, poperr.ErrNetwork)
	assert.Equal(t, before, h.creds.Token())
	assert.Equal(t, StateActive, h.engine.State())
}

func blockingRotateHarness(t *testing.T) (*harness, chan struct{}, chan struct{}) {
	t.Helper()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	hook := func() {
		entered <- struct{}{}
		<-release
	}
	return newHarness(t, []gatewaytest.Option{gatewaytest.WithRotateHook(hook)}), entered, release
}

func TestCancelledCallerLeavesSharedRotation(t *testing.T) {
	t.Parallel()
	h, entered, release := blockingRotateHarness(t)
	before := h.activate(t)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.engine.Rotate(ctx)
		firstErr <- err
	}()
	<-entered

	type result struct {
		token string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		token, err := h.engine.Rotate(context.Background())
		second <- result{token, err}
	}()
	time.Sleep(100 * time.Millisecond)

	t.Log("the caller that started the submission stops waiting")
	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(release)
	got := <-second
	require.NoError(t, got.err, "the joined caller receives the shared result")
	assert.NotEqual(t, before, got.token)
	assert.Equal(t, got.token, h.creds.Token())
	assert.Equal(t, 1, h.srv.Count(gateway.PathRotateToken))
}

func TestCloseWaitsForSubmittedRotation(t *testing.T) {
	t.Parallel()
	h, entered, release := blockingRotateHarness(t)
	before := h.activate(t)

	ctx, cancel := context.WithCancel(context.Background())
	go h.engine.Rotate(ctx)
	<-entered
	cancel()

	closed := make(chan struct{})
	go func() {
		assert.NoError(t, h.engine.Close())
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while the gateway was still rotating")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-closed
	assert.Equal(t, StateClosed, h.engine.State())

	t.Log("the accepted rotation was applied and persisted")
	assert.NotEqual(t, before, h.creds.Token())
	persisted, err := h.backing.Get(store.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, h.creds.Token(), string(persisted))
}

func TestRotateRevoked(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	before := h.activate(t)

	h.srv.Revoke("user1", "deviceA")
	_, err := h.engine.Rotate(context.Background())
	assert.ErrorIs(t, err, poperr.ErrAccessDenied)
	assert.Equal(t, StateRevoked, h.engine.State())
	assert.Equal(t, before, h.creds.Token())

	t.Log("a fresh issue recovers")
	_, err = h.engine.Issue(context.Background(), h.id)
	require.NoError(t, err)
	assert.Equal(t, StateActive, h.engine.State())
}

func TestRotateExpired(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.activate(t)

	h.clock.Set(testLifetime)
	assert.Equal(t, StateExpired, h.engine.State())

	_, err := h.engine.Rotate(context.Background())
	assert.ErrorIs(t, err, poperr.ErrAccessDenied)
	assert.Equal(t, StateExpired, h.engine.State())
}

func TestRotateWithoutToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	_, err := h.engine.Rotate(context.Background())
	assert.ErrorIs(t, err, poperr.ErrNoCurrentToken)
	assert.Equal(t, 0, h.srv.Count(gateway.PathRotateToken))
}

func TestStaleRotationDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	newer := codec.EncodeSegment([]byte(`{"alg":"RS256"}`)) + "." +
		codec.EncodeSegment([]byte(`{"sub":"user1","device_id":"deviceA","jti":"J-newer","iat":1700000000,"exp":1700000100}`)) + "." +
		codec.EncodeSegment([]byte("sig"))

	var h *harness
	var once sync.Once
	hook := func() {
		once.Do(func() {
			assert.NoError(t, h.creds.Set(newer))
		})
	}
	h = newHarness(t, []gatewaytest.Option{gatewaytest.WithRotateHook(hook)})
	h.activate(t)

	t.Log("another writer replaces the token while the rotation is in flight")
	_, err := h.engine.Rotate(context.Background())
	assert.ErrorIs(t, err, credential.ErrStale)
	assert.Equal(t, newer, h.creds.Token(), "a stale rotation response never replaces a newer token")
	assert.Equal(t, StateActive, h.engine.State())
}

func TestLogout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.activate(t)

	require.NoError(t, h.engine.Logout())
	assert.Empty(t, h.creds.Token())
	assert.Equal(t, StateRegistered, h.engine.State())
	assert.True(t, h.custodian.HasKey(), "logout keeps the device key")

	_, err := h.backing.Get(store.KeyAccessToken)
	assert.True(t, store.IsNotFound(err))
}

func TestClose(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.activate(t)

	require.NoError(t, h.engine.Close())
	assert.Equal(t, StateClosed, h.engine.State())

	ctx := context.Background()
	assert.ErrorIs(t, h.engine.Register(ctx, h.id), ErrClosed)
	_, err := h.engine.Issue(ctx, h.id)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.engine.Access(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.engine.Rotate(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.engine.StartScheduler(ctx), ErrClosed)

	rotated, err := h.engine.Tick(ctx)
	assert.NoError(t, err)
	assert.False(t, rotated)
}

func TestRestoreFromStorage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	token := h.activate(t)

	creds, err := credential.Open(h.backing)
	require.NoError(t, err)
	restored, err := New(h.srv.Client(), keys.NewCustodian(h.backing), creds,
		WithStateStore(h.backing), WithClock(h.clock.Now), WithLogger(discardLogger()))
	require.NoError(t, err)

	assert.Equal(t, StateActive, restored.State())
	assert.Equal(t, token, creds.Token())
	id, ok := restored.Identity()
	require.True(t, ok)
	assert.Equal(t, h.id, id)

	_, err = restored.Access(context.Background(), "")
	require.NoError(t, err)
}

func TestRestoreRegisteredOnly(t *testing.T) {
	t.Parallel()

	backing := store.NewMemoryStore()
	require.NoError(t, credential.SaveIdentity(backing, credential.Identity{UserID: "u", DeviceID: "d"}))
	e, err := New(nil, keys.NewCustodian(backing), credential.New(), WithStateStore(backing))
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, e.State())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "revoked", StateRevoked.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateRotating.HasToken())
	assert.False(t, StateRegistered.HasToken())
}
