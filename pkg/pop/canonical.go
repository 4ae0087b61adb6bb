// Package pop builds and signs the canonical proof-of-possession messages.
//
// Every PoP signature covers one of exactly three colon-delimited UTF-8
// messages:
//
//	ACCESS:<jti>
//	ROTATE:<jti>
//	CHALLENGE:<challenge_id>:<nonce>
//
// CanonicalMessage is the only place these are constructed. A change in
// separator, casing or field order produces signatures the gateway rejects.
package pop

import (
	"fmt"
	"strings"
)

// Kind identifies a signed operation.
type Kind string

const (
	KindAccess    Kind = "ACCESS"
	KindRotate    Kind = "ROTATE"
	KindChallenge Kind = "CHALLENGE"
)

// Separator joins the fields of a canonical message.
const Separator = ":"

// arity is the number of parameters each kind takes.
var arity = map[Kind]int{
	KindAccess:    1,
	KindRotate:    1,
	KindChallenge: 2,
}

// CanonicalMessage returns the exact bytes signed for kind with params.
// Access and rotate take the jti; challenge takes the challenge id and nonce.
// Parameters must be non-empty. Only a challenge id may not contain the
// separator: it is the one field followed by another, so a colon in it would
// make the message ambiguous. A jti or nonce is the last field and may hold
// colons, as in urn:uuid: identifiers.
func CanonicalMessage(kind Kind, params ...string) ([]byte, error) {
	n, ok := arity[kind]
	if !ok {
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
	if len(params) != n {
		return nil, fmt.Errorf("%s takes %d parameter(s), got %d", kind, n, len(params))
	}
	for i, p := range params {
		if p == "" {
			return nil, fmt.Errorf("%s parameter %d is empty", kind, i)
		}
		if kind == KindChallenge && i == 0 && strings.Contains(p, Separator) {
			return nil, fmt.Errorf("%s parameter %d contains %q", kind, i, Separator)
		}
	}
	return []byte(string(kind) + Separator + strings.Join(params, Separator)), nil
}
