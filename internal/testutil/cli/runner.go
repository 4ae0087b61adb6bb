package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// CommandResult captures the output and error from a command execution.
type CommandResult struct {
	Stdout string
	Stderr string
	Err    error
}

// Run executes a cobra command with the given arguments and captures output.
func Run(cmd *cobra.Command, args ...string) *CommandResult {
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Err:    err,
	}
}

// CommandRunner wraps a cobra command for fluent test execution.
type CommandRunner struct {
	cmd *cobra.Command
}

// Reset returns a runner for cmd after restoring every flag in the
// command tree to its default value.
func Reset(cmd *cobra.Command) *CommandRunner {
	resetFlags(cmd)
	cmd.SetArgs([]string{})
	return &CommandRunner{cmd: cmd}
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// Run executes the command with the given arguments.
func (r *CommandRunner) Run(args ...string) *CommandResult {
	return Run(r.cmd, args...)
}

// AssertSuccess fails the test if the command returned an error.
func (r *CommandResult) AssertSuccess(t *testing.T) {
	t.Helper()
	if r.Err != nil {
		t.Fatalf("expected command to succeed, got error: %v\nstdout: %s\nstderr: %s",
			r.Err, r.Stdout, r.Stderr)
	}
}

// AssertError fails the test if the command did not return an error.
func (r *CommandResult) AssertError(t *testing.T) {
	t.Helper()
	if r.Err == nil {
		t.Fatalf("expected command to fail, but it succeeded\nstdout: %s", r.Stdout)
	}
}

// AssertContains fails the test if stdout does not contain the expected string.
func (r *CommandResult) AssertContains(t *testing.T, expected string) {
	t.Helper()
	if !strings.Contains(r.Stdout, expected) {
		t.Errorf("expected stdout to contain %q, got:\n%s", expected, r.Stdout)
	}
}

// AssertNotContains fails the test if stdout contains the unexpected string.
func (r *CommandResult) AssertNotContains(t *testing.T, unexpected string) {
	t.Helper()
	if strings.Contains(r.Stdout, unexpected) {
		t.Errorf("expected stdout NOT to contain %q, got:\n%s", unexpected, r.Stdout)
	}
}

// AssertStderrContains fails the test if stderr does not contain the expected string.
func (r *CommandResult) AssertStderrContains(t *testing.T, expected string) {
	t.Helper()
	if !strings.Contains(r.Stderr, expected) {
		t.Errorf("expected stderr to contain %q, got:\n%s", expected, r.Stderr)
	}
}

// AssertJSON fails the test unless stdout decodes as JSON into v.
func (r *CommandResult) AssertJSON(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(r.Stdout), v); err != nil {
		t.Fatalf("expected JSON on stdout: %v\n%s", err, r.Stdout)
	}
}

// Workspace is a temp directory with a config file and a state directory.
type Workspace struct {
	Dir        string
	ConfigPath string
	StateDir   string
}

// NewWorkspace creates an empty workspace removed when the test ends.
func NewWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &Workspace{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "config.yaml"),
		StateDir:   filepath.Join(dir, "state"),
	}
	if err := os.MkdirAll(ws.StateDir, 0700); err != nil {
		t.Fatalf("failed to create state dir: %v", err)
	}
	return ws
}

// WriteConfig writes content to the workspace config file. A state_dir
// line pointing at the workspace is appended unless content sets one.
func (w *Workspace) WriteConfig(t *testing.T, content string) string {
	t.Helper()
	if !strings.Contains(content, "state_dir:") {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += "state_dir: " + w.StateDir + "\n"
	}
	if err := os.WriteFile(w.ConfigPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return w.ConfigPath
}

// ReadConfig returns the current contents of the workspace config file.
func (w *Workspace) ReadConfig(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(w.ConfigPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	return string(data)
}
