package cmd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/groot1121/secure-token-gateway/internal/config"
	"github.com/groot1121/secure-token-gateway/internal/testutil/cli"
	"github.com/groot1121/secure-token-gateway/pkg/gateway/gatewaytest"
)

const testUser = "alice"

// popctl runs the shared root command with a fresh flag set.
func popctl(args ...string) *cli.CommandResult {
	return cli.Reset(rootCmd).Run(args...)
}

func newGateway(t *testing.T, opts ...gatewaytest.Option) *gatewaytest.Server {
	t.Helper()
	srv, err := gatewaytest.New(opts...)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

// initWorkspace writes a config for srv and runs 'popctl init'. It
// returns the workspace and the generated device id.
func initWorkspace(t *testing.T, srv *gatewaytest.Server, extra string) (*cli.Workspace, string) {
	t.Helper()
	ws := cli.NewWorkspace(t)
	ws.WriteConfig(t, fmt.Sprintf("gateway_url: %s\nlog:\n  level: warn\n%s", srv.URL(), extra))

	result := popctl("--config", ws.ConfigPath, "init", "--user", testUser)
	result.AssertSuccess(t)

	cfg, err := config.Load(ws.ConfigPath)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.DeviceID)
	return ws, cfg.DeviceID
}

// activate registers the device and issues a token.
func activate(t *testing.T, ws *cli.Workspace) {
	t.Helper()
	popctl("--config", ws.ConfigPath, "register").AssertSuccess(t)
	popctl("--config", ws.ConfigPath, "issue").AssertSuccess(t)
}
