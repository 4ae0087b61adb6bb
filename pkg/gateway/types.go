package gateway

// Endpoint paths.
const (
	PathRegisterDevice  = "/register-device"
	PathIssueToken      = "/issue-token"
	PathProtected       = "/protected"
	PathRotateToken     = "/rotate-token"
	PathChallenge       = "/challenge"
	PathChallengeVerify = "/challenge-verify"
)

// HeaderPoPSignature carries the base64 PoP signature.
const HeaderPoPSignature = "X-Pop-Signature"

// Query parameter names.
const (
	ParamUserID      = "user_id"
	ParamDeviceID    = "device_id"
	ParamPublicKey   = "public_key"
	ParamChallengeID = "challenge_id"
	ParamSignature   = "signature"
)

// TokenResponse is returned by issue and rotate.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	Message     string `json:"message,omitempty"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ChallengeResponse is a fresh server nonce. Nonce is standard base64.
type ChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Nonce       string `json:"nonce"`
}

// errorResponse is the gateway's error body.
type errorResponse struct {
	Detail any `json:"detail"`
}
