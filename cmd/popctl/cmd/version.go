package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groot1121/secure-token-gateway/internal/version"
	"github.com/groot1121/secure-token-gateway/internal/versioncheck"
)

var versionCheck bool

// newChecker is replaced in tests.
var newChecker = func() *versioncheck.Checker {
	return versioncheck.NewChecker()
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check for a newer release")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the popctl version",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func runVersion(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if !versionCheck {
		if outputFormat != "table" {
			return formatOutput(w, map[string]string{"version": version.String()})
		}
		fmt.Fprintf(w, "popctl version %s\n", version.String())
		return nil
	}

	res := newChecker().Check(cmd.Context(), version.String())
	if outputFormat != "table" {
		return formatOutput(w, res)
	}

	fmt.Fprintf(w, "popctl version %s\n", version.String())
	switch {
	case res.LatestVersion == "":
		fmt.Fprintln(w, "(Could not check for updates)")
	case res.UpdateAvailable:
		fmt.Fprintf(w, "A newer version is available: %s\n", res.LatestVersion)
		if res.ReleaseURL != "" {
			fmt.Fprintf(w, "  Release notes: %s\n", res.ReleaseURL)
		}
		fmt.Fprintf(w, "  Upgrade: %s\n", res.UpgradeCommand)
	default:
		fmt.Fprintln(w, "You are running the latest version.")
	}
	return nil
}
