package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/groot1121/secure-token-gateway/pkg/credential"
)

var logoutForgetDevice bool

func init() {
	logoutCmd.Flags().BoolVar(&logoutForgetDevice, "forget-device", false, "Also delete the device keypair and registration record")
	rootCmd.AddCommand(logoutCmd)
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the current token",
	Long: `Delete the current token from local state. The keypair and the
registration are kept unless --forget-device is given, in which case the
device must register again before issuing.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func runLogout(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.engine.Logout(); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if !logoutForgetDevice {
		fmt.Fprintln(w, "Token removed.")
		return nil
	}

	if err := credential.DeleteIdentity(s.store); err != nil {
		return err
	}
	if err := s.keys.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(w, "Token, keypair and registration record removed.")
	return nil
}
