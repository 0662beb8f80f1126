// Package googleauth verifies Google-issued ID tokens for federated login.
// Verification is local: signatures are checked against Google's published
// JWKS with the audience pinned to this application's client ID.
package googleauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "huddle/pkg/domain-errors"
)

// DefaultJWKSURL is Google's published signing key set.
const DefaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// certCacheTTL is how long fetched keys are reused before re-fetching.
// Google rotates keys on the order of days; an hour keeps rotation lag short
// without hammering the endpoint.
const certCacheTTL = time.Hour

// Identity is the subset of the verified ID token the auth flow needs.
type Identity struct {
	Subject  string
	Email    string
	FullName string
}

type claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier validates Google ID tokens against the JWKS endpoint.
type Verifier struct {
	clientID   string
	jwksURL    string
	httpClient *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// New builds a verifier pinned to the given OAuth client ID.
func New(clientID string) *Verifier {
	return &Verifier{
		clientID:   clientID,
		jwksURL:    DefaultJWKSURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithJWKSURL overrides the key endpoint; used by tests.
func NewWithJWKSURL(clientID, jwksURL string) *Verifier {
	v := New(clientID)
	v.jwksURL = jwksURL
	return v
}

// Verify checks signature, issuer, audience, and expiry, and requires a
// verified email. Any failure maps to the federated_token_invalid code.
func (v *Verifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(idToken, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm %q", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no key id")
		}
		return v.keyFor(ctx, kid)
	},
		jwt.WithAudience(v.clientID),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeFederatedTokenInvalid, "google token verification failed")
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeFederatedTokenInvalid, "google token verification failed")
	}
	if c.Issuer != "accounts.google.com" && c.Issuer != "https://accounts.google.com" {
		return nil, dErrors.New(dErrors.CodeFederatedTokenInvalid, "unexpected token issuer")
	}
	if c.Email == "" || !c.EmailVerified {
		return nil, dErrors.New(dErrors.CodeFederatedTokenInvalid, "google account email not verified")
	}

	return &Identity{
		Subject:  c.Subject,
		Email:    c.Email,
		FullName: c.Name,
	}, nil
}

// keyFor returns the RSA public key for kid, refreshing the cached JWKS when
// it is stale or the kid is unknown (rotation).
func (v *Verifier) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok && time.Since(v.fetchedAt) < certCacheTTL {
		return key, nil
	}

	if err := v.refreshLocked(ctx); err != nil {
		return nil, err
	}
	key, ok := v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key with id %q in google key set", kid)
	}
	return key, nil
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *Verifier) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch google keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch google keys: unexpected status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode google key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("google key set contained no usable keys")
	}

	v.keys = keys
	v.fetchedAt = time.Now()
	return nil
}
