// Package bybit holds the pieces shared by the REST and websocket
// clients: request signing and credential handling for the v5 API.
package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Credentials carry the API key pair. Loaded from the environment so
// they never travel through config files.
type Credentials struct {
	Key    string
	Secret string
}

func CredentialsFromEnv() (Credentials, error) {
	key := strings.TrimSpace(os.Getenv("BYBIT_API_KEY"))
	if key == "" {
		return Credentials{}, errors.New("BYBIT_API_KEY is required")
	}
	secret := strings.TrimSpace(os.Getenv("BYBIT_API_SECRET"))
	if secret == "" {
		return Credentials{}, errors.New("BYBIT_API_SECRET is required")
	}
	return Credentials{Key: key, Secret: secret}, nil
}

// Sign computes the hex HMAC-SHA256 of payload under the API secret,
// the signature scheme for both REST headers and websocket auth.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// RESTPayload builds the string signed for a v5 REST request:
// timestamp + key + recvWindow + body (or query string for GETs).
func RESTPayload(timestampMS int64, key, recvWindow, body string) string {
	return fmt.Sprintf("%d%s%s%s", timestampMS, key, recvWindow, body)
}

// WSAuthArgs builds the args of the private stream auth op. The signed
// payload is fixed by the API: "GET/realtime" plus the expiry.
func WSAuthArgs(creds Credentials, now time.Time) []any {
	expires := now.Add(10 * time.Second).UnixMilli()
	signature := Sign(creds.Secret, fmt.Sprintf("GET/realtime%d", expires))
	return []any{creds.Key, expires, signature}
}
