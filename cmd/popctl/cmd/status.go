package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/groot1121/secure-token-gateway/pkg/lifecycle"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

// StatusOutput is the JSON/YAML output of status.
type StatusOutput struct {
	State       string       `json:"state" yaml:"state"`
	UserID      string       `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	DeviceID    string       `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	GatewayURL  string       `json:"gateway_url" yaml:"gateway_url"`
	Store       string       `json:"store" yaml:"store"`
	StatePath   string       `json:"state_path" yaml:"state_path"`
	Fingerprint string       `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Threshold   float64      `json:"rotation_threshold" yaml:"rotation_threshold"`
	Token       *TokenOutput `json:"token,omitempty" yaml:"token,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device and token state",
	Long: `Show the lifecycle state, device identity, key fingerprint and the
current token's timing. Reads local state only; nothing is sent to the
gateway.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	now := time.Now()
	state := s.engine.State()
	out := StatusOutput{
		State:      state.String(),
		UserID:     s.cfg.UserID,
		DeviceID:   s.cfg.DeviceID,
		GatewayURL: s.cfg.GatewayURL,
		Store:      s.cfg.Store,
		StatePath:  s.store.Path(),
		Threshold:  s.engine.Threshold(),
	}
	if id, ok := s.engine.Identity(); ok {
		out.UserID, out.DeviceID = id.UserID, id.DeviceID
	}
	if s.keys.HasKey() {
		if pair, err := s.keys.Load(); err == nil {
			out.Fingerprint = pair.Fingerprint()
		}
	}
	if claims, ok := s.engine.Claims(); ok {
		out.Token = newTokenOutput(claims, out.Threshold, now)
	}

	if outputFormat != "table" {
		return formatOutput(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "State:        %s\n", colorState(state))
	fmt.Fprintf(w, "User:         %s\n", orNone(out.UserID))
	fmt.Fprintf(w, "Device:       %s\n", orNone(out.DeviceID))
	fmt.Fprintf(w, "Gateway:      %s\n", out.GatewayURL)
	fmt.Fprintf(w, "Store:        %s (%s)\n", out.Store, out.StatePath)
	fmt.Fprintf(w, "Fingerprint:  %s\n", orNone(out.Fingerprint))
	if out.Token != nil {
		fmt.Fprintln(w, "Token:")
		printToken(w, out.Token, now)
	}

	switch state {
	case lifecycle.StateUnregistered:
		fmt.Fprintln(w, "\nRun 'popctl register' to register this device.")
	case lifecycle.StateRegistered:
		fmt.Fprintln(w, "\nRun 'popctl issue' to obtain a token.")
	case lifecycle.StateExpired, lifecycle.StateRevoked:
		fmt.Fprintln(w, "\nThe token can no longer be rotated. Run 'popctl issue' for a new one.")
	}
	return nil
}

func colorState(s lifecycle.State) string {
	switch s {
	case lifecycle.StateActive:
		return color.GreenString(s.String())
	case lifecycle.StateExpired, lifecycle.StateRevoked:
		return color.RedString(s.String())
	case lifecycle.StateRegistered, lifecycle.StateRotating:
		return color.YellowString(s.String())
	default:
		return s.String()
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
