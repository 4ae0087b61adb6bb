// Package cmd implements the popctl CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/groot1121/secure-token-gateway/pkg/clierror"
)

var (
	// Global flags
	configPath   string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "popctl",
	Short: "Device agent for proof-of-possession tokens",
	Long: `popctl keeps a device-bound access token for one user and device.

It generates the device keypair, registers the public key with the
gateway, obtains tokens bound to that key and signs every use of them.
'popctl run' rotates the token in the background before it expires.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "table", "json", "yaml":
			return nil
		default:
			return clierror.InvalidConfig(fmt.Errorf("unknown output format %q (want table, json or yaml)", outputFormat))
		}
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for popctl.

To load completions:

Bash:
  source <(popctl completion bash)

Zsh:
  source <(popctl completion zsh)

Fish:
  popctl completion fish > ~/.config/fish/completions/popctl.fish

PowerShell:
  popctl completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		default:
			return fmt.Errorf("unknown shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $XDG_CONFIG_HOME/popctl/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.AddCommand(completionCmd)
}

// Execute runs the root command and returns the process exit code.
// Errors are printed to stderr in the selected output format.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return clierror.ExitSuccess
	}
	cliErr := clierror.FromError(err)
	clierror.Fprint(rootCmd.ErrOrStderr(), cliErr, outputFormat)
	return cliErr.ExitCode
}

// formatOutput writes data as JSON or YAML based on the --output flag.
func formatOutput(w io.Writer, data any) error {
	switch outputFormat {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		// Table format is handled by each command
		return nil
	}
}
