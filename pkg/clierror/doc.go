// Package clierror provides structured error handling for CLI commands.
//
// CLI errors include an exit code, user-facing message, and optional
// troubleshooting hints. Local state problems ("re-register device") and
// gateway refusals ("access denied") map to distinct codes so operators
// and scripts can tell them apart.
//
// # Usage
//
//	if err := engine.Rotate(ctx); err != nil {
//	    return clierror.FromError(err)
//	}
package clierror
