// Package gateway is the HTTP client for the token gateway's wire contract.
//
// Endpoints and parameter names are fixed by the gateway:
//
//	POST /register-device   ?user_id&device_id&public_key   (no auth)
//	POST /issue-token       ?user_id&device_id              (no auth)
//	GET  <resource>         Authorization + X-Pop-Signature over ACCESS:<jti>
//	POST /rotate-token      Authorization + X-Pop-Signature over ROTATE:<jti>
//	GET  /challenge                                         (no auth)
//	POST /challenge-verify  ?challenge_id&signature&user_id&device_id
//
// The client moves bytes only. It never builds canonical messages or signs;
// callers pass ready signatures.
package gateway
