package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groot1121/secure-token-gateway/pkg/challenge"
)

func init() {
	rootCmd.AddCommand(challengeCmd)
}

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Prove key possession with a one-shot nonce challenge",
	Long: `Fetch a fresh challenge, sign CHALLENGE:<id>:<nonce> with the device key
and submit the response once. No token is needed.`,
	Args: cobra.NoArgs,
	RunE: runChallenge,
}

func runChallenge(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.identity()
	if err != nil {
		return err
	}

	res, err := challenge.NewResponder(s.gateway, s.keys, s.log).Run(cmd.Context(), id)
	if err != nil {
		return err
	}
	if outputFormat != "table" {
		return formatOutput(cmd.OutOrStdout(), res)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Challenge %s passed: %s\n", res.ChallengeID, res.Message)
	return nil
}
