package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(registerCmd)
}

// RegisterOutput is the JSON/YAML output of register.
type RegisterOutput struct {
	UserID      string `json:"user_id" yaml:"user_id"`
	DeviceID    string `json:"device_id" yaml:"device_id"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the device public key with the gateway",
	Long: `Generate the device keypair if needed and bind its public key to the
configured user and device at the gateway.

The keypair is created once and reused; re-registering sends the same key.`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.identity()
	if err != nil {
		return err
	}
	if err := s.engine.Register(cmd.Context(), id); err != nil {
		return err
	}
	pair, err := s.keys.Load()
	if err != nil {
		return err
	}

	out := RegisterOutput{
		UserID:      id.UserID,
		DeviceID:    id.DeviceID,
		Fingerprint: pair.Fingerprint(),
	}
	if outputFormat != "table" {
		return formatOutput(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Registered %s\n", id)
	fmt.Fprintf(w, "  Fingerprint: %s\n", out.Fingerprint)
	return nil
}
