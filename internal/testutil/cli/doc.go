// Package cli provides test helpers for the popctl cobra commands.
//
// # Basic Usage
//
// Execute a command and check output:
//
//	result := cli.Run(rootCmd, "--config", path, "status")
//	result.AssertSuccess(t)
//	result.AssertContains(t, "State:")
//
// # Shared Command Trees
//
// popctl keeps its commands in package-level variables, so flag values
// survive between executions. Reset restores every flag to its default
// before running:
//
//	result := cli.Reset(rootCmd).Run("--config", path, "-o", "json", "status")
//
// # Workspaces
//
// A Workspace is a temp directory holding a config file and a state
// directory:
//
//	ws := cli.NewWorkspace(t)
//	path := ws.WriteConfig(t, "gateway_url: "+srv.URL()+"\n")
//
// # Assertion Methods
//
//	result.AssertSuccess(t)                     // No error
//	result.AssertError(t)                       // Expects error
//	result.AssertContains(t, "expected text")   // Stdout contains
//	result.AssertStderrContains(t, "Error [")   // Stderr contains
//	result.AssertJSON(t, &out)                  // Stdout decodes as JSON
package cli
