package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: gateway returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: gateway returned %d: %s", e.Op, e.StatusCode, e.Detail)
}

// IsUnauthorized returns true for 401: the token itself was rejected
// (expired, revoked, or superseded).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsForbidden returns true for 403: proof or registration was rejected.
func (e *APIError) IsForbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// UserFriendlyMessage returns a message suitable for an operator.
func (e *APIError) UserFriendlyMessage() string {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return "Token rejected: it is expired, revoked or superseded (issue a new token)"
	case e.StatusCode == http.StatusForbidden && e.Detail != "":
		return "Request refused: " + e.Detail
	case e.StatusCode == http.StatusForbidden:
		return "Request refused: proof of possession failed"
	case e.StatusCode == http.StatusTooManyRequests:
		return "Rate limited by gateway: wait before retrying"
	case e.StatusCode == http.StatusUnprocessableEntity:
		return "Gateway rejected the request parameters"
	case e.StatusCode >= 500:
		return "Gateway error: try again later"
	default:
		return fmt.Sprintf("Gateway returned %d", e.StatusCode)
	}
}

// parseAPIError builds an APIError from a failed response. The body is consumed.
func parseAPIError(op string, resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}

	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Detail != nil {
		switch d := er.Detail.(type) {
		case string:
			apiErr.Detail = d
		default:
			// Validation errors arrive as structured detail.
			b, _ := json.Marshal(d)
			apiErr.Detail = string(b)
		}
	}
	return apiErr
}
