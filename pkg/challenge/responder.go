// Package challenge answers gateway nonce challenges with a signature over
// CHALLENGE:<challenge_id>:<nonce>.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/groot1121/secure-token-gateway/pkg/credential"
	"github.com/groot1121/secure-token-gateway/pkg/gateway"
	"github.com/groot1121/secure-token-gateway/pkg/pop"
	"github.com/groot1121/secure-token-gateway/pkg/poperr"
)

// Gateway is the challenge half of the gateway API.
// *gateway.Client satisfies it.
type Gateway interface {
	Challenge(ctx context.Context) (*gateway.ChallengeResponse, error)
	VerifyChallenge(ctx context.Context, challengeID, signature, userID, deviceID string) (*gateway.MessageResponse, error)
}

// Responder runs one-shot challenge exchanges.
type Responder struct {
	gw     Gateway
	signer *pop.Signer
	log    *slog.Logger
}

// NewResponder creates a responder signing with keys.
func NewResponder(gw Gateway, keys pop.HandleSource, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{gw: gw, signer: pop.NewSigner(keys), log: log}
}

// Result describes a completed exchange.
type Result struct {
	ChallengeID string `json:"challenge_id" yaml:"challenge_id"`
	Message     string `json:"message" yaml:"message"`
}

// Run fetches a challenge, signs it and submits the response once. The
// challenge is never reused: a rejected, stale or already-consumed
// challenge returns an error wrapping poperr.ErrChallengeRejected.
func (r *Responder) Run(ctx context.Context, id credential.Identity) (*Result, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("challenge: %w", err)
	}

	ch, err := r.gw.Challenge(ctx)
	if err != nil {
		return nil, fmt.Errorf("challenge: fetch: %w", err)
	}

	sig, err := r.signer.SignOperation(pop.KindChallenge, ch.ChallengeID, ch.Nonce)
	if err != nil {
		return nil, fmt.Errorf("challenge %s: %w", ch.ChallengeID, err)
	}

	resp, err := r.gw.VerifyChallenge(ctx, ch.ChallengeID, sig, id.UserID, id.DeviceID)
	if err != nil {
		var apiErr *gateway.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			r.log.Warn("challenge rejected", "challenge_id", ch.ChallengeID, "status", apiErr.StatusCode, "detail", apiErr.Detail)
			return nil, fmt.Errorf("challenge %s: %w: %w", ch.ChallengeID, poperr.ErrChallengeRejected, err)
		}
		return nil, fmt.Errorf("challenge %s: %w", ch.ChallengeID, err)
	}

	r.log.Info("challenge verified", "challenge_id", ch.ChallengeID, "device_id", id.DeviceID)
	return &Result{ChallengeID: ch.ChallengeID, Message: resp.Message}, nil
}
