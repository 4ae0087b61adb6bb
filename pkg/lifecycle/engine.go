package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/groot1121/secure-token-gateway/pkg/codec"
	"github.com/groot1121/secure-token-gateway/pkg/credential"
	"github.com/groot1121/secure-token-gateway/pkg/gateway"
	"github.com/groot1121/secure-token-gateway/pkg/keys"
	"github.com/groot1121/secure-token-gateway/pkg/pop"
	"github.com/groot1121/secure-token-gateway/pkg/poperr"
	"github.com/groot1121/secure-token-gateway/pkg/store"
)

// Defaults for the rotation scheduler.
const (
	DefaultThreshold    = 0.8
	DefaultPollInterval = 10 * time.Second
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("lifecycle engine closed")

// Gateway is the subset of the gateway API the engine drives.
// *gateway.Client satisfies it.
type Gateway interface {
	RegisterDevice(ctx context.Context, userID, deviceID, publicKeyPEM string) (*gateway.MessageResponse, error)
	IssueToken(ctx context.Context, userID, deviceID string) (*gateway.TokenResponse, error)
	Access(ctx context.Context, resource, token, signature string) (json.RawMessage, error)
	RotateToken(ctx context.Context, token, signature string) (*gateway.TokenResponse, error)
}

// KeySource provides the device keypair. *keys.Custodian satisfies it.
type KeySource interface {
	EnsureKeyPair() (*keys.KeyPair, error)
	Handle() (keys.Handle, error)
	HasKey() bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithClock sets the time source used for rotation decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithThreshold sets the fraction of token lifetime after which the
// scheduler rotates. Must be in (0, 1].
func WithThreshold(f float64) Option {
	return func(e *Engine) {
		e.threshold = f
	}
}

// WithPollInterval sets how often the scheduler inspects the token.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.interval = d
	}
}

// WithRotationTimeout bounds a rotation submission, which outlives the
// context of a caller that stops waiting for it. Zero leaves it to the
// gateway client's own timeout.
func WithRotationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithStateStore persists the registered identity through s and restores
// it on construction.
func WithStateStore(s store.Store) Option {
	return func(e *Engine) {
		e.stateStore = s
	}
}

// Engine is the device credential session. It is safe for concurrent use.
type Engine struct {
	gw         Gateway
	keys       KeySource
	signer     *pop.Signer
	creds      *credential.Store
	stateStore store.Store
	log        *slog.Logger
	now        func() time.Time
	threshold  float64
	interval   time.Duration
	timeout    time.Duration

	rotations singleflight.Group
	inflight  sync.WaitGroup

	mu       sync.Mutex
	current  State
	identity *credential.Identity
	closed   bool

	schedMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an engine for one device. creds holds the current token and
// may already contain one restored from storage.
func New(gw Gateway, keySource KeySource, creds *credential.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		gw:        gw,
		keys:      keySource,
		signer:    pop.NewSigner(keySource),
		creds:     creds,
		log:       slog.Default(),
		now:       time.Now,
		threshold: DefaultThreshold,
		interval:  DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.threshold <= 0 || e.threshold > 1 {
		return nil, fmt.Errorf("rotation threshold must be in (0, 1], got %v", e.threshold)
	}
	if e.interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", e.interval)
	}

	if e.stateStore != nil {
		id, err := credential.LoadIdentity(e.stateStore)
		switch {
		case err == nil:
			e.identity = &id
		case store.IsNotFound(err):
		default:
			return nil, fmt.Errorf("restore identity: %w", err)
		}
	}

	_, claims, ok := creds.Get()
	switch {
	case ok:
		e.current = StateActive
		if e.identity == nil {
			e.identity = &credential.Identity{UserID: claims.Subject, DeviceID: claims.DeviceID}
		}
	case e.identity != nil:
		e.current = StateRegistered
	default:
		e.current = StateUnregistered
	}
	return e, nil
}

// State returns the current lifecycle state. An active token past its exp
// reports StateExpired.
func (e *Engine) State() State {
	e.mu.Lock()
	s := e.current
	e.mu.Unlock()

	if s == StateActive {
		if _, claims, ok := e.creds.Get(); ok && claims.Expired(e.now()) {
			return StateExpired
		}
	}
	return s
}

// Identity returns the registered identity, if any.
func (e *Engine) Identity() (credential.Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity == nil {
		return credential.Identity{}, false
	}
	return *e.identity, true
}

// Claims returns the decoded claims of the current token.
func (e *Engine) Claims() (*codec.Claims, bool) {
	_, claims, ok := e.creds.Get()
	return claims, ok
}

// Threshold returns the configured rotation threshold.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.current = s
	}
}

// track registers a rotation submission unless the engine is closed.
func (e *Engine) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.inflight.Add(1)
	return true
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Register ensures the device keypair exists and binds its public key to id
// at the gateway. Conflicts are surfaced, not retried. Registering a
// different identity drops the token held for the previous one.
func (e *Engine) Register(ctx context.Context, id credential.Identity) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := id.Validate(); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	pair, err := e.keys.EnsureKeyPair()
	if err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	if _, err := e.gw.RegisterDevice(ctx, id.UserID, id.DeviceID, pair.PublicKeyPEM); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	if e.stateStore != nil {
		if err := credential.SaveIdentity(e.stateStore, id); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
	}

	e.mu.Lock()
	changed := e.identity != nil && *e.identity != id
	e.identity = &id
	e.mu.Unlock()

	if changed {
		if err := e.creds.Clear(); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
	}
	if changed || !e.State().HasToken() {
		e.setState(StateRegistered)
	}

	e.log.Info("device registered",
		"user_id", id.UserID,
		"device_id", id.DeviceID,
		"fingerprint", pair.Fingerprint())
	return nil
}

// Issue obtains a new token for a registered identity and makes it current.
func (e *Engine) Issue(ctx context.Context, id credential.Identity) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	if err := id.Validate(); err != nil {
		return "", fmt.Errorf("issue: %w", err)
	}

	registered, ok := e.Identity()
	if !ok || registered != id {
		return "", fmt.Errorf("issue %s: %w", id, poperr.ErrNotRegistered)
	}

	resp, err := e.gw.IssueToken(ctx, id.UserID, id.DeviceID)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && apiErr.IsForbidden() {
			return "", fmt.Errorf("issue %s: %w: %w", id, poperr.ErrNotRegistered, err)
		}
		return "", fmt.Errorf("issue %s: %w", id, err)
	}
	if err := e.creds.Set(resp.AccessToken); err != nil {
		return "", fmt.Errorf("issue %s: %w", id, err)
	}
	e.setState(StateActive)

	if _, claims, ok := e.creds.Get(); ok {
		e.log.Info("token issued",
			"device_id", id.DeviceID,
			"jti", claims.JTI,
			"expires_at", claims.ExpiresAtTime())
	}
	return resp.AccessToken, nil
}

// Access fetches resource with the current token and a signature over
// ACCESS:<jti>, where jti is read from the token held at call time.
// It never changes the held token. Gateway rejections wrap
// poperr.ErrAccessDenied and are not retried.
func (e *Engine) Access(ctx context.Context, resource string) (json.RawMessage, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	token := e.creds.Token()
	jti, sig, err := e.signer.SignForToken(pop.KindAccess, token)
	if err != nil {
		return nil, fmt.Errorf("access: %w", err)
	}

	body, err := e.gw.Access(ctx, resource, token, sig)
	if err != nil {
		e.log.Warn("access refused", "jti", jti, "resource", resource, "error", err)
		return nil, fmt.Errorf("access: %w", denied(err))
	}
	return body, nil
}

// Rotate exchanges the current token for a new one. The new token replaces
// the old only if the gateway accepted the rotation and no other writer
// replaced the token meanwhile; on any failure the prior token stays
// current. Concurrent calls share one gateway submission and its result.
// Cancelling ctx releases this caller only: a submission other callers wait
// on, or that the gateway may already have applied, runs to completion.
func (e *Engine) Rotate(ctx context.Context) (string, error) {
	res, err := e.rotateShared(ctx, "")
	if err != nil {
		return "", err
	}
	return res.token, nil
}

type rotation struct {
	token   string
	rotated bool
}

// rotateShared joins or starts the single rotation submission. A non-empty
// expected token makes the submission a no-op when the current token is no
// longer expected, so a decision taken on an old token cannot rotate a newer
// one.
func (e *Engine) rotateShared(ctx context.Context, expected string) (rotation, error) {
	if err := e.checkOpen(); err != nil {
		return rotation{}, err
	}
	if err := ctx.Err(); err != nil {
		return rotation{}, fmt.Errorf("rotate: %w", err)
	}

	ch := e.rotations.DoChan("rotate", func() (any, error) {
		if !e.track() {
			return nil, ErrClosed
		}
		defer e.inflight.Done()
		return e.rotate(context.WithoutCancel(ctx), expected)
	})
	select {
	case <-ctx.Done():
		return rotation{}, fmt.Errorf("rotate: %w", ctx.Err())
	case r := <-ch:
		if r.Shared {
			e.log.Debug("joined in-flight rotation")
		}
		if r.Err != nil {
			return rotation{}, r.Err
		}
		return r.Val.(rotation), nil
	}
}

func (e *Engine) rotate(ctx context.Context, expected string) (rotation, error) {
	token := e.creds.Token()
	if expected != "" && token != expected {
		e.log.Debug("token already replaced, skipping rotation")
		return rotation{token: token}, nil
	}

	jti, sig, err := e.signer.SignForToken(pop.KindRotate, token)
	if err != nil {
		return rotation{}, fmt.Errorf("rotate: %w", err)
	}

	e.mu.Lock()
	prev := e.current
	e.mu.Unlock()
	e.setState(StateRotating)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	resp, err := e.gw.RotateToken(ctx, token, sig)
	if err != nil {
		next := prev
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
			next = StateRevoked
			if _, claims, ok := e.creds.Get(); ok && claims.Expired(e.now()) {
				next = StateExpired
			}
		}
		e.setState(next)
		e.log.Warn("rotation failed", "jti", jti, "state", next.String(), "error", err)
		return rotation{}, fmt.Errorf("rotate: %w", denied(err))
	}

	if err := e.creds.CompareAndSwap(token, resp.AccessToken); err != nil {
		e.setState(e.stateAfterFailedSwap())
		return rotation{}, fmt.Errorf("rotate: %w", err)
	}
	e.setState(StateActive)

	if _, claims, ok := e.creds.Get(); ok {
		e.log.Info("token rotated",
			"old_jti", jti,
			"jti", claims.JTI,
			"expires_at", claims.ExpiresAtTime())
	}
	return rotation{token: resp.AccessToken, rotated: true}, nil
}

func (e *Engine) stateAfterFailedSwap() State {
	if _, _, ok := e.creds.Get(); ok {
		return StateActive
	}
	if _, ok := e.Identity(); ok {
		return StateRegistered
	}
	return StateUnregistered
}

// Logout stops the scheduler and drops the current token. The keypair and
// registration are kept.
func (e *Engine) Logout() error {
	e.Stop()
	if err := e.creds.Clear(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if _, ok := e.Identity(); ok {
		e.setState(StateRegistered)
	} else {
		e.setState(StateUnregistered)
	}
	e.log.Info("logged out")
	return nil
}

// Close stops the scheduler, waits for a submitted rotation to settle and
// makes every later operation fail with ErrClosed. The held token and keys
// are left in storage.
func (e *Engine) Close() error {
	e.Stop()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.inflight.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = StateClosed
	return nil
}

// denied marks gateway refusals of a signed request as access denied.
func denied(err error) error {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && (apiErr.IsUnauthorized() || apiErr.IsForbidden()) {
		return fmt.Errorf("%w: %w", poperr.ErrAccessDenied, err)
	}
	return err
}
