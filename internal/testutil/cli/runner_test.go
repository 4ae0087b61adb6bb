package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestRun_CapturesStdout(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run captures stdout from command")

	cmd := &cobra.Command{
		Use: "test",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("hello world")
		},
	}

	result := Run(cmd)
	result.AssertSuccess(t)

	if result.Stdout != "hello world\n" {
		t.Errorf("expected stdout 'hello world\\n', got %q", result.Stdout)
	}
}

func TestRun_CapturesStderr(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run captures stderr from command")

	cmd := &cobra.Command{
		Use: "test",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.PrintErrln("error message")
		},
	}

	result := Run(cmd)
	result.AssertSuccess(t)
	result.AssertStderrContains(t, "error message")
}

func TestRun_CapturesError(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Run captures command errors")

	cmd := &cobra.Command{
		Use:           "test",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("command failed")
		},
	}

	result := Run(cmd)
	result.AssertError(t)
	if result.Err.Error() != "command failed" {
		t.Errorf("unexpected error: %v", result.Err)
	}
}

func TestReset_RestoresFlagDefaults(t *testing.T) {
	t.Parallel()
	t.Log("Testing that Reset restores flags changed by an earlier run")

	var output string
	var verbose bool
	root := &cobra.Command{Use: "root"}
	root.PersistentFlags().StringVarP(&output, "output", "o", "table", "")
	sub := &cobra.Command{
		Use: "show",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s %v\n", output, verbose)
		},
	}
	sub.Flags().BoolVar(&verbose, "verbose", false, "")
	root.AddCommand(sub)

	first := Reset(root).Run("-o", "json", "show", "--verbose")
	first.AssertSuccess(t)
	first.AssertContains(t, "json true")

	second := Reset(root).Run("show")
	second.AssertSuccess(t)
	second.AssertContains(t, "table false")

	if root.PersistentFlags().Lookup("output").Changed {
		t.Error("expected output flag to be unchanged after reset")
	}
}

func TestAssertJSON_Decodes(t *testing.T) {
	t.Parallel()
	t.Log("Testing that AssertJSON decodes stdout")

	cmd := &cobra.Command{
		Use: "test",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(`{"state":"active"}`)
		},
	}

	var out struct {
		State string `json:"state"`
	}
	Run(cmd).AssertJSON(t, &out)
	if out.State != "active" {
		t.Errorf("expected state active, got %q", out.State)
	}
}

func TestAssertNotContains_PassesWhenNotFound(t *testing.T) {
	t.Parallel()

	result := &CommandResult{Stdout: "State: active"}
	result.AssertNotContains(t, "revoked")
	result.AssertContains(t, "active")
}

func TestWorkspace_WriteConfigAddsStateDir(t *testing.T) {
	t.Parallel()
	t.Log("Testing that WriteConfig points state_dir at the workspace")

	ws := NewWorkspace(t)
	if info, err := os.Stat(ws.StateDir); err != nil || !info.IsDir() {
		t.Fatalf("expected state dir to exist: %v", err)
	}

	path := ws.WriteConfig(t, "gateway_url: http://127.0.0.1:1")
	if path != filepath.Join(ws.Dir, "config.yaml") {
		t.Errorf("unexpected config path %q", path)
	}

	content := ws.ReadConfig(t)
	if !strings.Contains(content, "gateway_url: http://127.0.0.1:1\n") {
		t.Errorf("expected gateway_url line, got:\n%s", content)
	}
	if !strings.Contains(content, "state_dir: "+ws.StateDir+"\n") {
		t.Errorf("expected state_dir line, got:\n%s", content)
	}
}

func TestWorkspace_WriteConfigKeepsExplicitStateDir(t *testing.T) {
	t.Parallel()

	ws := NewWorkspace(t)
	ws.WriteConfig(t, "state_dir: /elsewhere\n")

	content := ws.ReadConfig(t)
	if strings.Count(content, "state_dir:") != 1 {
		t.Errorf("expected a single state_dir line, got:\n%s", content)
	}
}
