// Package token mints and verifies the signed access tokens that prove
// identity across the platform, plus the opaque refresh credentials resolved
// only through the session store.
package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"huddle/internal/identity"
	"huddle/pkg/domain"
	dErrors "huddle/pkg/domain-errors"
)

// Claims is the access token payload. The subject is the user's email; the
// random jti keeps two tokens for the same session from being fingerprinted
// as related.
type Claims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	FullName  string `json:"full_name"`
	jwt.RegisteredClaims
}

// Principal rebuilds the trusted principal carried by the claims.
func (c *Claims) Principal() (identity.Principal, error) {
	// dErrors.New so the invalid_input code from the id parse cannot leak
	// through; a token with garbage ids is simply an invalid token.
	userID, err := domain.ParseUserID(c.UserID)
	if err != nil {
		return identity.Principal{}, dErrors.New(dErrors.CodeTokenInvalid, "token carries invalid user id")
	}
	sessionID, err := domain.ParseSessionID(c.SessionID)
	if err != nil {
		return identity.Principal{}, dErrors.New(dErrors.CodeTokenInvalid, "token carries invalid session id")
	}
	return identity.Principal{
		UserID:    userID,
		Email:     c.Subject,
		Role:      c.Role,
		FullName:  c.FullName,
		SessionID: sessionID,
	}, nil
}

// Codec signs and verifies access tokens with an asymmetric key pair.
// Verify-only deployments (the gateway, downstream services) hold just the
// public key; only the auth issuer carries signing authority.
type Codec struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   string
	tokenTTL   time.Duration
}

// New builds a Codec. privateKey may be nil for verify-only use; publicKey is
// always required.
func New(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, tokenTTL time.Duration) (*Codec, error) {
	method, err := signingMethodFor(publicKey)
	if err != nil {
		return nil, err
	}
	return &Codec{
		privateKey: privateKey,
		publicKey:  publicKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		tokenTTL:   tokenTTL,
	}, nil
}

func signingMethodFor(publicKey crypto.PublicKey) (jwt.SigningMethod, error) {
	switch publicKey.(type) {
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PublicKey:
		return jwt.SigningMethodES256, nil
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", publicKey)
	}
}

// TTL exposes the configured access token lifetime for expires_in responses.
func (c *Codec) TTL() time.Duration {
	return c.tokenTTL
}

// IssueAccessToken mints a signed access token for the principal bound to the
// given session.
func (c *Codec) IssueAccessToken(p identity.Principal, sessionID domain.SessionID) (string, error) {
	if c.privateKey == nil {
		return "", dErrors.New(dErrors.CodeInternal, "codec has no signing key")
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	now := time.Now().UTC()

	newToken := jwt.NewWithClaims(c.method, Claims{
		UserID:    p.UserID.String(),
		SessionID: sessionID.String(),
		Role:      p.Role,
		FullName:  p.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Email,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			ID:        hex.EncodeToString(b),
		},
	})

	signed, err := newToken.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify validates signature, algorithm, expiry, issuer, and audience.
// Expiry is the one recoverable failure and gets its own code so callers can
// offer refresh.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeTokenExpired, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	return claims, nil
}

// ClaimsIgnoringExpiry parses a token WITHOUT validating expiry.
//
// This exists solely for the refresh flow, which must read the session id out
// of an expired access token before validating the refresh credential against
// the store. Signature and algorithm are STILL verified; callers must perform
// the store-side refresh validation before trusting anything here.
func (c *Codec) ClaimsIgnoringExpiry(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "empty token")
	}

	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	return claims, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "unexpected signing algorithm")
	}
	return c.publicKey, nil
}

// NewRefreshCredential returns a random opaque refresh credential. It is
// deliberately unrelated to the signed token: it proves nothing on its own
// and is only resolvable through the session store.
func NewRefreshCredential() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generate refresh credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}
