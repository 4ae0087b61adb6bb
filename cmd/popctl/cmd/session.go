package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/groot1121/secure-token-gateway/internal/config"
	"github.com/groot1121/secure-token-gateway/internal/logging"
	"github.com/groot1121/secure-token-gateway/pkg/clierror"
	"github.com/groot1121/secure-token-gateway/pkg/credential"
	"github.com/groot1121/secure-token-gateway/pkg/gateway"
	"github.com/groot1121/secure-token-gateway/pkg/keys"
	"github.com/groot1121/secure-token-gateway/pkg/lifecycle"
	"github.com/groot1121/secure-token-gateway/pkg/store"
)

// resolveConfigPath returns the --config path or the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

// loadConfig reads the config file, applies environment overrides and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, clierror.InvalidConfig(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, clierror.InvalidConfig(err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, clierror.InvalidConfig(err)
	}
	return cfg, nil
}

// session holds the wired agent components for one command.
type session struct {
	cfg     *config.Config
	log     *slog.Logger
	store   store.Store
	keys    *keys.Custodian
	creds   *credential.Store
	gateway *gateway.Client
	engine  *lifecycle.Engine
}

// openSession loads configuration and opens local state. Nothing is sent
// to the gateway.
func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return nil, clierror.InvalidConfig(err)
	}

	st, err := store.Open(cfg.Store, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	if cfg.StateKey != "" {
		sealed, err := store.NewSealedStore(st, cfg.StateKey, store.KeyPrivateKey)
		if err != nil {
			if c, ok := st.(io.Closer); ok {
				c.Close()
			}
			return nil, err
		}
		st = sealed
	}

	s := &session{
		cfg:   cfg,
		log:   log,
		store: st,
		keys:  keys.NewCustodian(st, keys.WithLogger(log)),
		gateway: gateway.NewClient(cfg.GatewayURL,
			gateway.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})),
	}

	s.creds, err = credential.Open(st)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.engine, err = lifecycle.New(s.gateway, s.keys, s.creds,
		lifecycle.WithLogger(log),
		lifecycle.WithThreshold(cfg.RotationThreshold),
		lifecycle.WithPollInterval(cfg.PollInterval),
		lifecycle.WithRotationTimeout(cfg.HTTPTimeout),
		lifecycle.WithStateStore(st),
	)
	if err != nil {
		s.Close()
		return nil, clierror.InvalidConfig(err)
	}
	return s, nil
}

// identity returns the configured identity.
func (s *session) identity() (credential.Identity, error) {
	id, err := s.cfg.Identity()
	if err != nil {
		return id, clierror.InvalidConfig(err)
	}
	return id, nil
}

// Close stops the engine and releases the state backend.
func (s *session) Close() {
	if s.engine != nil {
		s.engine.Close()
	}
	if c, ok := s.store.(io.Closer); ok {
		c.Close()
	}
}
