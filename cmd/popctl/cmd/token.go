package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/groot1121/secure-token-gateway/pkg/codec"
	"github.com/groot1121/secure-token-gateway/pkg/timeutil"
)

// TokenOutput summarizes a held token for display.
type TokenOutput struct {
	JTI       string    `json:"jti" yaml:"jti"`
	IssuedAt  time.Time `json:"issued_at" yaml:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
	RotateAt  time.Time `json:"rotate_at" yaml:"rotate_at"`
	ExpiresIn string    `json:"expires_in" yaml:"expires_in"`
	Token     string    `json:"token,omitempty" yaml:"token,omitempty"`
}

func newTokenOutput(claims *codec.Claims, threshold float64, now time.Time) *TokenOutput {
	rotateAfter := time.Duration(float64(claims.Lifetime()) * threshold)
	return &TokenOutput{
		JTI:       claims.JTI,
		IssuedAt:  claims.IssuedAtTime().UTC(),
		ExpiresAt: claims.ExpiresAtTime().UTC(),
		RotateAt:  claims.IssuedAtTime().Add(rotateAfter).UTC(),
		ExpiresIn: timeutil.Remaining(claims.ExpiresAtTime().Sub(now)),
	}
}

func printToken(w io.Writer, t *TokenOutput, now time.Time) {
	fmt.Fprintf(w, "  JTI:        %s\n", t.JTI)
	fmt.Fprintf(w, "  Issued:     %s (%s)\n", t.IssuedAt.Format(time.RFC3339), timeutil.RelativeTo(t.IssuedAt, now))
	fmt.Fprintf(w, "  Expires:    %s (%s)\n", t.ExpiresAt.Format(time.RFC3339), timeutil.RelativeTo(t.ExpiresAt, now))
	fmt.Fprintf(w, "  Rotates:    %s (%s)\n", t.RotateAt.Format(time.RFC3339), timeutil.RelativeTo(t.RotateAt, now))
}
