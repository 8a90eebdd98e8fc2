package publish

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrNoSigner is returned when a signing operation runs without a signer.
var ErrNoSigner = errors.New("no active signer")

// Signer is the opaque signing capability. Implementations fill in the
// event's pubkey, id and signature.
type Signer interface {
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

// KeySigner signs events with a local secret key. The key is accepted as
// nsec bech32 or raw hex.
type KeySigner struct {
	sk     string
	pubkey string
}

// NewKeySigner parses and validates secret and returns a KeySigner.
func NewKeySigner(secret string) (*KeySigner, error) {
	sk := strings.TrimSpace(secret)
	if strings.HasPrefix(sk, "nsec") {
		pfx, val, err := nip19.Decode(sk)
		if err != nil || pfx != "nsec" {
			return nil, fmt.Errorf("decoding nsec key: %w", err)
		}
		s, ok := val.(string)
		if !ok {
			return nil, errors.New("decoding nsec key: unexpected payload")
		}
		sk = s
	}
	if _, err := hex.DecodeString(sk); err != nil {
		return nil, fmt.Errorf("secret key is not hex: %w", err)
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	return &KeySigner{sk: sk, pubkey: pk}, nil
}

// PublicKey returns the hex public key of the signer.
func (s *KeySigner) PublicKey() string {
	return s.pubkey
}

// SignEvent signs evt in place, setting its pubkey, id and signature.
func (s *KeySigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	if evt.PubKey == "" {
		evt.PubKey = s.pubkey
	}
	return evt.Sign(s.sk)
}
