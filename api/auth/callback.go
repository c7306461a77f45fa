package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	callbackIssuer   = "scaffold"
	callbackAudience = "build-runner"
)

var ErrTokenMismatch = errors.New("callback token does not belong to this build")

// CallbackClaims is carried by the token a worker presents on callbacks.
type CallbackClaims struct {
	BuildID string `json:"buildId"`
	jwt.RegisteredClaims
}

// CallbackSigner mints and checks per-build callback tokens. With an empty
// secret it is disabled: Issue returns "" and Verify accepts anything.
type CallbackSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCallbackSigner(secret string, ttl time.Duration) *CallbackSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CallbackSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *CallbackSigner) Enabled() bool {
	return len(s.secret) > 0
}

func (s *CallbackSigner) Issue(buildID string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	now := s.now()
	claims := &CallbackClaims{
		BuildID: buildID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    callbackIssuer,
			Subject:   buildID,
			Audience:  jwt.ClaimStrings{callbackAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks that token was issued by this signer for buildID.
func (s *CallbackSigner) Verify(token, buildID string) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return errors.New("missing callback token")
	}
	claims := &CallbackClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(callbackIssuer),
		jwt.WithAudience(callbackAudience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("invalid callback token: %w", err)
	}
	if claims.BuildID != buildID {
		return ErrTokenMismatch
	}
	return nil
}
