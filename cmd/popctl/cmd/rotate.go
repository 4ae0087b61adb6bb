package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(rotateCmd)
}

// RotateOutput is the JSON/YAML output of rotate.
type RotateOutput struct {
	PreviousJTI string       `json:"previous_jti" yaml:"previous_jti"`
	Token       *TokenOutput `json:"token" yaml:"token"`
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Exchange the current token for a new one",
	Long: `Sign ROTATE:<jti> with the device key and exchange the current token.

The old token stays current unless the gateway accepts the rotation.`,
	Args: cobra.NoArgs,
	RunE: runRotate,
}

func runRotate(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var prev string
	if claims, ok := s.engine.Claims(); ok {
		prev = claims.JTI
	}
	if _, err := s.engine.Rotate(cmd.Context()); err != nil {
		return err
	}
	claims, _ := s.engine.Claims()

	now := time.Now()
	out := RotateOutput{
		PreviousJTI: prev,
		Token:       newTokenOutput(claims, s.cfg.RotationThreshold, now),
	}
	if outputFormat != "table" {
		return formatOutput(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Rotated token %s -> %s\n", prev, out.Token.JTI)
	printToken(w, out.Token, now)
	return nil
}
