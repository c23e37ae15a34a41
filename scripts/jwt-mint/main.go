// jwt-mint mints HMAC-signed identity tokens for local development.
// The signing secret must match the server's server.auth.secret.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	var currentUser, err = user.Current()
	if err != nil {
		currentUser = &user.User{Username: "user-1"}
	}

	secret := flag.String("secret", os.Getenv("CQRY_SERVER_AUTH_SECRET"), "HMAC signing secret (defaults to CQRY_SERVER_AUTH_SECRET)")
	secretFile := flag.String("secret-file", "", "Read the signing secret from a file")
	subject := flag.String("subject", currentUser.Username, "JWT subject (actor ID)")
	tenant := flag.String("tenant", "", "Tenant claim (optional)")
	tenantClaim := flag.String("tenant-claim", "tenant", "Name of the tenant claim")
	expires := flag.Duration("expires", time.Hour, "Token lifetime (e.g. 1h)")
	flag.Parse()

	key, err := resolveSecret(*secret, *secretFile)
	if err != nil {
		exitErr(err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": *subject,
		"iat": now.Unix(),
		"exp": now.Add(*expires).Unix(),
		"nbf": now.Add(-1 * time.Minute).Unix(),
	}
	if *tenant != "" {
		claims[*tenantClaim] = *tenant
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		exitErr(err)
	}

	fmt.Println(signed)
}

func resolveSecret(secret, secretFile string) ([]byte, error) {
	if secretFile != "" {
		data, err := os.ReadFile(secretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file: %w", err)
		}
		secret = strings.TrimSpace(string(data))
	}
	if secret == "" {
		return nil, fmt.Errorf("no signing secret: pass -secret, -secret-file, or set CQRY_SERVER_AUTH_SECRET")
	}
	return []byte(secret), nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
