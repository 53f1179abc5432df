package helix

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 3 * time.Minute

// Claims is the extension JWT payload Helix expects for server-side calls.
type Claims struct {
	UserID      string       `json:"user_id"`
	Role        string       `json:"role"`
	ChannelID   string       `json:"channel_id,omitempty"`
	PubSubPerms *PubSubPerms `json:"pubsub_perms,omitempty"`
	jwt.RegisteredClaims
}

type PubSubPerms struct {
	Send []string `json:"send,omitempty"`
}

func newClaims(now time.Time, ownerID, channelID string) Claims {
	return Claims{
		UserID:    ownerID,
		Role:      "external",
		ChannelID: channelID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
}

// Sign produces an HS256 token. secret is the base64 extension secret as
// shown in the developer console.
func Sign(secret string, claims Claims) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("helix: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses an HS256 token signed with secret and rejects it when the
// signature does not match or it has expired.
func Verify(secret, token string) (*Claims, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("helix: verify token: %w", err)
	}
	return claims, nil
}

var ErrEmptySecret = errors.New("helix: empty extension secret")

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("helix: extension secret is not base64: %w", err)
	}
	return key, nil
}
