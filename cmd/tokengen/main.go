// Command tokengen is a development helper. It generates the Ed25519 key pair
// the services are configured with, and mints access tokens against a given
// private key so API calls can be exercised without running the login flow.
//
// Tokens minted here carry whatever session id you pass (or a random one); the
// gateway will still reject them unless a matching session exists in the store.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"time"

	"huddle/internal/identity"
	"huddle/internal/token"
	"huddle/pkg/domain"
)

const (
	defaultIssuer   = "huddle-auth"
	defaultAudience = "huddle-api"
	defaultTTL      = 30 * time.Minute
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keys":
		err = runKeys(os.Args[2:])
	case "access":
		err = runAccess(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage:
  tokengen keys   [-out-dir DIR]
  tokengen access [-key FILE] [-user-id UUID] [-session-id UUID] [-email EMAIL] [-role ROLE] [-ttl DURATION]

Commands:
  keys    Generate an Ed25519 key pair as private.pem / public.pem.
  access  Mint a signed access token using a private key from "keys".
`)
}

func runKeys(args []string) error {
	fs := flag.NewFlagSet("keys", flag.ExitOnError)
	outDir := fs.String("out-dir", ".", "Directory to write private.pem and public.pem into.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}

	privPath := *outDir + "/private.pem"
	pubPath := *outDir + "/public.pem"

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", privPath, err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", pubPath, err)
	}

	fmt.Printf("wrote %s and %s\n", privPath, pubPath)
	fmt.Printf("export HUDDLE_TOKEN_PRIVATE_KEY=%s\n", privPath)
	fmt.Printf("export HUDDLE_TOKEN_PUBLIC_KEY=%s\n", pubPath)
	return nil
}

type accessOutput struct {
	Token     string `json:"token"`
	Type      string `json:"type"`
	ExpiresIn string `json:"expires_in"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Usage     string `json:"usage"`
}

func runAccess(args []string) error {
	fs := flag.NewFlagSet("access", flag.ExitOnError)
	keyPath := fs.String("key", "private.pem", "Path to the PEM private key.")
	userID := fs.String("user-id", "", "User ID (UUID). Generated if empty.")
	sessionID := fs.String("session-id", "", "Session ID (UUID). Generated if empty.")
	email := fs.String("email", "dev@example.com", "Subject email claim.")
	fullName := fs.String("full-name", "Dev User", "Full name claim.")
	role := fs.String("role", identity.RoleMember, "Role claim (MEMBER or ADMIN).")
	issuer := fs.String("issuer", defaultIssuer, "Issuer claim.")
	audience := fs.String("audience", defaultAudience, "Audience claim.")
	ttl := fs.Duration("ttl", defaultTTL, "Token lifetime.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	priv, err := token.ParsePrivateKey(*keyPath)
	if err != nil {
		return fmt.Errorf("load private key: %w", err)
	}
	codec, err := token.New(priv, priv.Public(), *issuer, *audience, *ttl)
	if err != nil {
		return err
	}

	uid := domain.NewUserID()
	if *userID != "" {
		if uid, err = domain.ParseUserID(*userID); err != nil {
			return fmt.Errorf("parse -user-id: %w", err)
		}
	}
	sid := domain.NewSessionID()
	if *sessionID != "" {
		if sid, err = domain.ParseSessionID(*sessionID); err != nil {
			return fmt.Errorf("parse -session-id: %w", err)
		}
	}

	principal := identity.Principal{
		UserID:    uid,
		Email:     *email,
		Role:      *role,
		FullName:  *fullName,
		SessionID: sid,
	}
	signed, err := codec.IssueAccessToken(principal, sid)
	if err != nil {
		return err
	}

	out := accessOutput{
		Token:     signed,
		Type:      "Bearer",
		ExpiresIn: ttl.String(),
		UserID:    uid.String(),
		SessionID: sid.String(),
		Usage:     fmt.Sprintf("curl -H 'Authorization: Bearer %s' http://localhost:8080/api/me", signed),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
