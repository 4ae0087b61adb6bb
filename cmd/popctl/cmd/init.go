package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groot1121/secure-token-gateway/internal/config"
	"github.com/groot1121/secure-token-gateway/pkg/clierror"
)

var (
	initGateway  string
	initUser     string
	initDeviceID string
	initStore    string
	initStateDir string
	initForce    bool
)

func init() {
	initCmd.Flags().StringVar(&initGateway, "gateway", "", "Gateway base URL")
	initCmd.Flags().StringVar(&initUser, "user", "", "User identifier")
	initCmd.Flags().StringVar(&initDeviceID, "device-id", "", "Device identifier (default: generated once)")
	initCmd.Flags().StringVar(&initStore, "store", "", "State backend: file or sqlite")
	initCmd.Flags().StringVar(&initStateDir, "state-dir", "", "State directory")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Allow replacing an existing device id")
	rootCmd.AddCommand(initCmd)
}

// InitOutput is the JSON/YAML output of init.
type InitOutput struct {
	ConfigPath string `json:"config_path" yaml:"config_path"`
	GatewayURL string `json:"gateway_url" yaml:"gateway_url"`
	UserID     string `json:"user_id" yaml:"user_id"`
	DeviceID   string `json:"device_id" yaml:"device_id"`
	Generated  bool   `json:"device_id_generated" yaml:"device_id_generated"`
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the agent configuration",
	Long: `Create or update the popctl config file.

A device id is generated the first time and kept on later runs. The
gateway binds the registered key to (user, device), so changing the
device id requires --force and a new registration.

Examples:
  popctl init --gateway https://gateway.example.com --user alice
  popctl init --store sqlite`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return clierror.InvalidConfig(err)
	}

	if initGateway != "" {
		cfg.GatewayURL = initGateway
	}
	if initUser != "" {
		cfg.UserID = initUser
	}
	if initStore != "" {
		cfg.Store = initStore
	}
	if initStateDir != "" {
		cfg.StateDir = initStateDir
	}
	if initDeviceID != "" && initDeviceID != cfg.DeviceID {
		if cfg.DeviceID != "" && !initForce {
			return clierror.InvalidConfig(fmt.Errorf("device_id is already %q; pass --force to replace it", cfg.DeviceID))
		}
		cfg.DeviceID = initDeviceID
	}
	generated := cfg.EnsureDeviceID()

	if cfg.UserID == "" {
		return clierror.InvalidConfig(fmt.Errorf("user_id is required (pass --user)"))
	}
	if err := cfg.Validate(); err != nil {
		return clierror.InvalidConfig(err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	out := InitOutput{
		ConfigPath: path,
		GatewayURL: cfg.GatewayURL,
		UserID:     cfg.UserID,
		DeviceID:   cfg.DeviceID,
		Generated:  generated,
	}
	if outputFormat != "table" {
		return formatOutput(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Wrote %s\n", path)
	fmt.Fprintf(w, "  Gateway:   %s\n", out.GatewayURL)
	fmt.Fprintf(w, "  User:      %s\n", out.UserID)
	if generated {
		fmt.Fprintf(w, "  Device:    %s (generated)\n", out.DeviceID)
	} else {
		fmt.Fprintf(w, "  Device:    %s\n", out.DeviceID)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next: popctl register")
	return nil
}
