// Package codec converts between the byte encodings used on the PoP wire.
//
// Two base64 alphabets are in play and must never be mixed:
//   - token segments use base64url without padding (compact JWS form)
//   - challenge nonces and PoP signatures use standard padded base64
//
// The package also frames DER key material as PEM exactly the way the
// gateway parses it, and decodes token claims locally without verifying the
// signature segment. Verification is the gateway's job.
package codec
