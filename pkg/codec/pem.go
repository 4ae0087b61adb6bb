package codec

import (
	"encoding/pem"
	"fmt"
	"strings"
)

// PEM labels used by the agent.
const (
	LabelPublicKey  = "PUBLIC KEY"
	LabelPrivateKey = "PRIVATE KEY"
)

// ToPEM frames DER bytes as PEM: the body is wrapped at 64 columns between
// literal BEGIN/END markers, with no newline after the END marker. The gateway
// parses this text, so the framing must not drift.
func ToPEM(der []byte, label string) string {
	block := pem.EncodeToMemory(&pem.Block{Type: label, Bytes: der})
	return strings.TrimSuffix(string(block), "\n")
}

// FromPEM returns the DER bytes and label of the first PEM block in text.
// FromPEM(ToPEM(b, l)) reproduces b exactly.
func FromPEM(text string) ([]byte, string, error) {
	block, rest := pem.Decode([]byte(text))
	if block == nil {
		return nil, "", fmt.Errorf("no PEM block found")
	}
	if len(strings.TrimSpace(string(rest))) != 0 {
		return nil, "", fmt.Errorf("unexpected data after PEM block")
	}
	return block.Bytes, block.Type, nil
}

// FromPEMLabel is FromPEM that additionally requires the block label.
func FromPEMLabel(text, label string) ([]byte, error) {
	der, got, err := FromPEM(text)
	if err != nil {
		return nil, err
	}
	if got != label {
		return nil, fmt.Errorf("unexpected PEM block type %q, expected %s", got, label)
	}
	return der, nil
}
