// Package gatewaytest runs an in-process token gateway for tests.
//
// The server mints RS256 tokens bound to the registered device key
// (cnf.pk), keeps one active jti per device, verifies PoP signatures over
// the canonical ACCESS, ROTATE and CHALLENGE messages, and expires
// challenges. Status codes and error details follow the production gateway.
// It is not a production server.
package gatewaytest

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/groot1121/secure-token-gateway/pkg/gateway"
)

// Defaults mirror the production gateway.
const (
	DefaultLifetime     = 10 * time.Minute
	DefaultChallengeTTL = 60 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithClock sets the time source used for iat, exp and challenge expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLifetime sets the lifetime of minted tokens.
func WithLifetime(d time.Duration) Option {
	return func(s *Server) {
		s.lifetime = d
	}
}

// WithChallengeTTL sets how long a challenge stays redeemable.
func WithChallengeTTL(d time.Duration) Option {
	return func(s *Server) {
		s.challengeTTL = d
	}
}

// WithRotateHook installs fn to run inside every rotation request after the
// token is authenticated and before a replacement is minted. Tests use it to
// hold rotations open.
func WithRotateHook(fn func()) Option {
	return func(s *Server) {
		s.rotateHook = fn
	}
}

type deviceKey struct {
	userID   string
	deviceID string
}

type challengeEntry struct {
	nonce   string
	expires time.Time
}

type injectedFailure struct {
	status int
	detail string
}

// Server is an in-process gateway.
type Server struct {
	now          func() time.Time
	lifetime     time.Duration
	challengeTTL time.Duration
	rotateHook   func()

	signingKey *rsa.PrivateKey
	signer     jose.Signer
	echo       *echo.Echo
	http       *httptest.Server

	mu          sync.Mutex
	devices     map[deviceKey]string
	active      map[deviceKey]string
	challenges  map[string]challengeEntry
	failures    map[string][]injectedFailure
	counts      map[string]int
	inFlight    map[string]int
	maxInFlight map[string]int
}

// New starts a gateway on a loopback listener. Callers must Close it.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		now:          time.Now,
		lifetime:     DefaultLifetime,
		challengeTTL: DefaultChallengeTTL,
		devices:      make(map[deviceKey]string),
		active:       make(map[deviceKey]string),
		challenges:   make(map[string]challengeEntry),
		failures:     make(map[string][]injectedFailure),
		counts:       make(map[string]int),
		inFlight:     make(map[string]int),
		maxInFlight:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, err
	}
	s.signingKey = key
	s.signer = signer

	s.echo = s.router()
	s.http = httptest.NewServer(s.echo)
	return s, nil
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.track)
	e.HTTPErrorHandler = detailErrorHandler

	e.POST(gateway.PathRegisterDevice, s.registerDevice)
	e.POST(gateway.PathIssueToken, s.issueToken)
	e.GET(gateway.PathProtected, s.protected)
	e.GET("/resources/*", s.protected)
	e.POST(gateway.PathRotateToken, s.rotateToken)
	e.GET(gateway.PathChallenge, s.challenge)
	e.POST(gateway.PathChallengeVerify, s.verifyChallenge)
	return e
}

// URL returns the base URL of the running server.
func (s *Server) URL() string {
	return s.http.URL
}

// Client returns a gateway client pointed at the server.
func (s *Server) Client() *gateway.Client {
	return gateway.NewClient(s.http.URL, gateway.WithHTTPClient(s.http.Client()))
}

// Close shuts the server down.
func (s *Server) Close() {
	s.http.Close()
}

// SigningKey returns the public half of the token signing key.
func (s *Server) SigningKey() *rsa.PublicKey {
	return &s.signingKey.PublicKey
}

// FailNext makes the next request to path fail with status and detail.
// Calls queue in order.
func (s *Server) FailNext(path string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], injectedFailure{status: status, detail: detail})
}

// Revoke invalidates the active token of a device.
func (s *Server) Revoke(userID, deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, deviceKey{userID, deviceID})
}

// ActiveJTI returns the jti the server currently honors for a device.
func (s *Server) ActiveJTI(userID, deviceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[deviceKey{userID, deviceID}]
}

// RegisteredKey returns the PEM registered for a device, or "".
func (s *Server) RegisteredKey(userID, deviceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[deviceKey{userID, deviceID}]
}

// Count returns how many requests reached path, including injected failures.
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

// MaxInFlight returns the highest number of concurrent requests seen on path.
func (s *Server) MaxInFlight(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight[path]
}

// PendingChallenges returns the number of unredeemed challenges.
func (s *Server) PendingChallenges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// track counts requests and applies injected failures.
func (s *Server) track(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path

		s.mu.Lock()
		s.counts[path]++
		s.inFlight[path]++
		if s.inFlight[path] > s.maxInFlight[path] {
			s.maxInFlight[path] = s.inFlight[path]
		}
		var fail *injectedFailure
		if q := s.failures[path]; len(q) > 0 {
			fail = &q[0]
			s.failures[path] = q[1:]
		}
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.inFlight[path]--
			s.mu.Unlock()
		}()

		if fail != nil {
			return echo.NewHTTPError(fail.status, fail.detail)
		}
		return next(c)
	}
}

// detailErrorHandler writes errors as {"detail": ...}.
func detailErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	var detail any = "Internal Server Error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		detail = he.Message
		if detail == nil || detail == "" {
			detail = http.StatusText(code)
		}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	_ = c.JSON(code, map[string]any{"detail": detail})
}
