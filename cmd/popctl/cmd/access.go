package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(accessCmd)
}

var accessCmd = &cobra.Command{
	Use:   "access [resource]",
	Short: "Fetch a protected resource with the current token",
	Long: `Send the current token with a signature over ACCESS:<jti> and print
the gateway response.

The resource defaults to protected_resource from the config file.

Examples:
  popctl access
  popctl access /resources/reports -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAccess,
}

func runAccess(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	resource := s.cfg.ProtectedResource
	if len(args) == 1 {
		resource = args[0]
	}

	body, err := s.engine.Access(cmd.Context(), resource)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch outputFormat {
	case "yaml":
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Fprintln(w, buf.String())
		return nil
	}
}
