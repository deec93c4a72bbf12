package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrKeyIDMissing indicates an RS256 token carries no kid header.
	ErrKeyIDMissing = errors.New("jwt: missing key identifier")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("jwt: invalid token")
)

// ActorClaims identifies the caller of the management API.
type ActorClaims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Actor returns uid, falling back to sub.
func (c *ActorClaims) Actor() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.RegisteredClaims.Subject)
}

// ActorTokenConfig configures verification of bearer tokens minted by the host application.
type ActorTokenConfig struct {
	Secret   string
	Keys     KeyProvider
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// ActorTokenVerifier validates HS256 tokens with a shared secret or RS256 tokens by kid.
type ActorTokenVerifier struct {
	secret []byte
	keys   KeyProvider
	opts   []jwt.ParserOption
}

// NewActorTokenVerifier requires either a secret or a key provider.
func NewActorTokenVerifier(cfg ActorTokenConfig) (*ActorTokenVerifier, error) {
	if cfg.Secret == "" && cfg.Keys == nil {
		return nil, errors.New("jwt: secret or key provider is required")
	}

	methods := make([]string, 0, 2)
	if cfg.Secret != "" {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if cfg.Keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &ActorTokenVerifier{
		secret: []byte(cfg.Secret),
		keys:   cfg.Keys,
		opts:   opts,
	}, nil
}

// Verify parses and validates raw, returning its claims.
func (v *ActorTokenVerifier) Verify(raw string) (*ActorClaims, error) {
	claims := &ActorClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyFunc, v.opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Actor() == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return claims, nil
}

func (v *ActorTokenVerifier) keyFunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return v.secret, nil
	case *jwt.SigningMethodRSA:
		kid, _ := token.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, ErrKeyIDMissing
		}
		return v.keys.GetVerificationKey(kid)
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}
