package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var issuePrintToken bool

func init() {
	issueCmd.Flags().BoolVar(&issuePrintToken, "print-token", false, "Include the raw token in the output")
	rootCmd.AddCommand(issueCmd)
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Obtain a new access token",
	Long: `Ask the gateway for a token bound to the registered device key and
make it the current token.

The raw token is only printed with --print-token.`,
	Args: cobra.NoArgs,
	RunE: runIssue,
}

func runIssue(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.identity()
	if err != nil {
		return err
	}
	token, err := s.engine.Issue(cmd.Context(), id)
	if err != nil {
		return err
	}
	claims, _ := s.engine.Claims()

	now := time.Now()
	out := newTokenOutput(claims, s.cfg.RotationThreshold, now)
	if issuePrintToken {
		out.Token = token
	}
	if outputFormat != "table" {
		return formatOutput(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Issued token for %s\n", id)
	printToken(w, out, now)
	if out.Token != "" {
		fmt.Fprintf(w, "  Token:      %s\n", out.Token)
	}
	return nil
}
