package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/groot1121/secure-token-gateway/pkg/lifecycle"
)

var runFor time.Duration

func init() {
	runCmd.Flags().DurationVar(&runFor, "for", 0, "Stop after this long (default: until interrupted)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the token fresh until interrupted",
	Long: `Run the rotation scheduler in the foreground. The token is rotated once
rotation_threshold of its lifetime has elapsed, checked every poll_interval.

The device is registered first if it is not yet, and a token is issued
if none is held or the held one has expired or was refused by the gateway.

Examples:
  popctl run
  popctl run --for 1h`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.identity()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runFor)
		defer cancel()
	}

	switch s.engine.State() {
	case lifecycle.StateActive:
	case lifecycle.StateUnregistered:
		if err := s.engine.Register(ctx, id); err != nil {
			return err
		}
		fallthrough
	default:
		if _, err := s.engine.Issue(ctx, id); err != nil {
			return err
		}
	}

	var startJTI string
	if claims, ok := s.engine.Claims(); ok {
		startJTI = claims.JTI
	}

	if err := s.engine.StartScheduler(ctx); err != nil {
		return err
	}
	s.log.Info("rotation scheduler running",
		"threshold", s.cfg.RotationThreshold,
		"poll_interval", s.cfg.PollInterval)

	<-ctx.Done()
	s.engine.Stop()

	w := cmd.OutOrStdout()
	claims, ok := s.engine.Claims()
	switch {
	case !ok:
		fmt.Fprintf(w, "Stopped (%s).\n", s.engine.State())
	case claims.JTI != startJTI:
		fmt.Fprintf(w, "Stopped (%s). Token rotated %s -> %s\n", s.engine.State(), startJTI, claims.JTI)
	default:
		fmt.Fprintf(w, "Stopped (%s). Token %s\n", s.engine.State(), claims.JTI)
	}
	return nil
}
