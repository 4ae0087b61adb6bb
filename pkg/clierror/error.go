// Package clierror provides structured errors for CLI output with codes,
// exit codes, and remediation hints.
package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/groot1121/secure-token-gateway/pkg/credential"
	"github.com/groot1121/secure-token-gateway/pkg/gateway"
	"github.com/groot1121/secure-token-gateway/pkg/poperr"
	"github.com/groot1121/secure-token-gateway/pkg/store"
)

// Exit codes.
const (
	ExitSuccess      = 0 // Operation completed successfully
	ExitGeneral      = 1 // Unknown/unhandled error
	ExitAccessDenied = 2 // Gateway refused a token or signature
	ExitDeviceState  = 3 // Local key, registration or token problem
	ExitNetwork      = 4 // Gateway unreachable
	ExitRateLimited  = 5 // Too many requests
)

// Error codes (strings) for programmatic error handling
const (
	CodeKeyUnavailable    = "KEY_UNAVAILABLE"
	CodeNotRegistered     = "NOT_REGISTERED"
	CodeMalformedToken    = "MALFORMED_TOKEN"
	CodeNoCurrentToken    = "NO_CURRENT_TOKEN"
	CodeSigningFailed     = "SIGNING_FAILED"
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeTokenRejected     = "TOKEN_REJECTED"
	CodeChallengeRejected = "CHALLENGE_REJECTED"
	CodeInsecureStorage   = "INSECURE_STORAGE"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeRateLimited       = "RATE_LIMITED"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeGatewayError      = "GATEWAY_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code" yaml:"code"`
	Message   string `json:"message" yaml:"message"`
	Hint      string `json:"hint,omitempty" yaml:"hint,omitempty"`
	Retryable bool   `json:"retryable" yaml:"retryable"`
	ExitCode  int    `json:"-" yaml:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// KeyUnavailable creates an error for missing or corrupt device key material.
func KeyUnavailable(reason string) *CLIError {
	return &CLIError{
		Code:     CodeKeyUnavailable,
		Message:  fmt.Sprintf("device key unavailable: %s", reason),
		Hint:     "Re-register the device with 'popctl register' to create a new key",
		ExitCode: ExitDeviceState,
	}
}

// NotRegistered creates an error for operations that need a registered device.
func NotRegistered(identity string) *CLIError {
	msg := "device is not registered"
	if identity != "" {
		msg = fmt.Sprintf("device '%s' is not registered", identity)
	}
	return &CLIError{
		Code:     CodeNotRegistered,
		Message:  msg,
		Hint:     "Run 'popctl register' first",
		ExitCode: ExitDeviceState,
	}
}

// MalformedToken creates an error for a held token whose claims cannot be read.
func MalformedToken() *CLIError {
	return &CLIError{
		Code:     CodeMalformedToken,
		Message:  "stored token is malformed",
		Hint:     "Request a new token with 'popctl issue'",
		ExitCode: ExitDeviceState,
	}
}

// NoCurrentToken creates an error for operations that need a token.
func NoCurrentToken() *CLIError {
	return &CLIError{
		Code:     CodeNoCurrentToken,
		Message:  "no current token",
		Hint:     "Request a token with 'popctl issue'",
		ExitCode: ExitDeviceState,
	}
}

// SigningFailed creates an error for a failed PoP signature.
func SigningFailed(reason string) *CLIError {
	return &CLIError{
		Code:     CodeSigningFailed,
		Message:  fmt.Sprintf("signing failed: %s", reason),
		Hint:     "Check the device key with 'popctl status'; re-register if it is corrupt",
		ExitCode: ExitDeviceState,
	}
}

// AccessDenied creates an error for a proof the gateway refused.
func AccessDenied(detail string) *CLIError {
	msg := "access denied"
	if detail != "" {
		msg = fmt.Sprintf("access denied: %s", detail)
	}
	return &CLIError{
		Code:     CodeAccessDenied,
		Message:  msg,
		Hint:     "The gateway rejected the proof of possession; check that this device's key is the registered one",
		ExitCode: ExitAccessDenied,
	}
}

// TokenRejected creates an error for an expired, revoked or superseded token.
func TokenRejected() *CLIError {
	return &CLIError{
		Code:      CodeTokenRejected,
		Message:   "token is expired, revoked or superseded",
		Hint:      "Request a new token with 'popctl issue'",
		Retryable: true,
		ExitCode:  ExitAccessDenied,
	}
}

// ChallengeRejected creates an error for a refused challenge response.
func ChallengeRejected(detail string) *CLIError {
	msg := "challenge rejected"
	if detail != "" {
		msg = fmt.Sprintf("challenge rejected: %s", detail)
	}
	return &CLIError{
		Code:      CodeChallengeRejected,
		Message:   msg,
		Hint:      "Challenges are single-use and expire after 60 seconds; run 'popctl challenge' again",
		Retryable: true,
		ExitCode:  ExitAccessDenied,
	}
}

// InsecureStorage creates an error for state files readable by other users.
func InsecureStorage(path string) *CLIError {
	return &CLIError{
		Code:     CodeInsecureStorage,
		Message:  fmt.Sprintf("state storage '%s' is accessible to other users", path),
		Hint:     "Restrict permissions: chmod 700 on the directory and 600 on its files",
		ExitCode: ExitDeviceState,
	}
}

// InvalidConfig creates an error for unusable configuration.
func InvalidConfig(err error) *CLIError {
	return &CLIError{
		Code:     CodeInvalidConfig,
		Message:  fmt.Sprintf("invalid configuration: %v", err),
		Hint:     "Run 'popctl init' or set POP_GATEWAY_URL, POP_USER_ID and POP_DEVICE_ID",
		ExitCode: ExitGeneral,
	}
}

// RateLimited creates an error for rate limiting.
func RateLimited() *CLIError {
	return &CLIError{
		Code:      CodeRateLimited,
		Message:   "rate limit exceeded",
		Hint:      "Wait a moment before retrying",
		Retryable: true,
		ExitCode:  ExitRateLimited,
	}
}

// ConnectionFailed creates an error for connection failures.
func ConnectionFailed(target string) *CLIError {
	msg := "failed to reach the gateway"
	if target != "" {
		msg = fmt.Sprintf("failed to connect to '%s'", target)
	}
	return &CLIError{
		Code:      CodeConnectionFailed,
		Message:   msg,
		Hint:      "Check network connectivity and the gateway URL",
		Retryable: true,
		ExitCode:  ExitNetwork,
	}
}

// GatewayError creates an error for other gateway failures.
func GatewayError(apiErr *gateway.APIError) *CLIError {
	return &CLIError{
		Code:      CodeGatewayError,
		Message:   apiErr.UserFriendlyMessage(),
		Retryable: apiErr.StatusCode >= 500,
		ExitCode:  ExitGeneral,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:     CodeInternalError,
		Message:  msg,
		ExitCode: ExitGeneral,
	}
}

// FromError maps an agent error to its CLI form. A *CLIError is returned
// unchanged; a nil error returns nil.
func FromError(err error) *CLIError {
	if err == nil {
		return nil
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	var apiErr *gateway.APIError
	hasAPI := errors.As(err, &apiErr)
	detail := ""
	if hasAPI {
		detail = apiErr.Detail
	}

	switch {
	case errors.Is(err, poperr.ErrChallengeRejected):
		return ChallengeRejected(detail)
	case errors.Is(err, poperr.ErrNotRegistered):
		return NotRegistered("")
	case errors.Is(err, poperr.ErrAccessDenied) && hasAPI && apiErr.IsUnauthorized():
		return TokenRejected()
	case errors.Is(err, poperr.ErrAccessDenied):
		return AccessDenied(detail)
	case errors.Is(err, poperr.ErrKeyUnavailable):
		return KeyUnavailable(rootCause(err))
	case errors.Is(err, poperr.ErrMalformedToken):
		return MalformedToken()
	case errors.Is(err, poperr.ErrNoCurrentToken):
		return NoCurrentToken()
	case errors.Is(err, poperr.ErrSigningFailed):
		return SigningFailed(rootCause(err))
	case errors.Is(err, poperr.ErrNetwork):
		return ConnectionFailed("")
	case errors.Is(err, credential.ErrInvalidIdentity):
		return InvalidConfig(err)
	case store.IsPermissionError(err):
		return InsecureStorage("")
	case hasAPI && apiErr.StatusCode == 429:
		return RateLimited()
	case hasAPI:
		return GatewayError(apiErr)
	}
	return InternalError(err)
}

// rootCause returns the text after the last ": " of err.
func rootCause(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return msg
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json", "yaml", anything else for human-readable table format.
func FormatError(err *CLIError, outputFormat string) string {
	switch outputFormat {
	case "json":
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	case "yaml":
		data, yamlErr := yaml.Marshal(err)
		if yamlErr == nil {
			return strings.TrimSuffix(string(data), "\n")
		}
	}

	// Human-readable table format
	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// Fprint writes the formatted error to w.
func Fprint(w io.Writer, err *CLIError, outputFormat string) {
	fmt.Fprintln(w, FormatError(err, outputFormat))
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	Fprint(os.Stderr, err, outputFormat)
}
