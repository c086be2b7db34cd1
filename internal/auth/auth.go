// Package auth verifies bearer credentials presented at connection setup.
// Verification happens once per connection; the resolved identity rides on
// the connection for its whole lifetime.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/crewdeck/crewdeck/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors. All three mean the handshake is rejected and the
// connection is never established.
var (
	ErrNoToken     = errors.New("auth: no token provided")
	ErrBadToken    = errors.New("auth: invalid token")
	ErrUnknownUser = errors.New("auth: user not found")
)

// Identity is a verified user identity.
type Identity struct {
	UserID   uint
	Username string
}

// Verifier validates JWT bearer credentials and resolves them to users.
type Verifier struct {
	secret []byte
	store  *store.Store
}

// VerifierOpts holds parameters for creating a Verifier.
type VerifierOpts struct {
	Secret string
	Store  *store.Store
}

// NewVerifier creates a Verifier.
func NewVerifier(opts VerifierOpts) (*Verifier, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("auth: verifier: secret is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("auth: verifier: store is required")
	}
	return &Verifier{secret: []byte(opts.Secret), store: opts.Store}, nil
}

// Verify checks a bearer token and resolves the user it names. Only HMAC
// signatures are accepted; anything else fails as a bad token.
func (v *Verifier) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrBadToken
	}
	rawID, ok := claims["id"].(float64)
	if !ok || rawID <= 0 {
		return nil, fmt.Errorf("%w: missing id claim", ErrBadToken)
	}

	user, err := v.store.UserByID(uint(rawID))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownUser, uint(rawID))
		}
		return nil, err
	}

	return &Identity{UserID: user.ID, Username: user.Username}, nil
}

// SignDevToken mints an HS256 token naming userID. This is a development
// utility for the CLI; real credential issuance lives outside this core.
func SignDevToken(secret string, userID uint, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("auth: sign: secret is required")
	}
	claims := jwt.MapClaims{
		"id":  userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}
