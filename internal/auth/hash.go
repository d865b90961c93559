package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Changing them invalidates stored hashes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
	hashScheme   = "argon2id"
)

var b64 = base64.RawStdEncoding

// HashAPIKey returns "argon2id$<salt>$<hash>" for apiKey.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hashScheme + "$" + b64.EncodeToString(salt) + "$" + b64.EncodeToString(sum), nil
}

// VerifyAPIKey reports whether apiKey matches encoded.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	scheme, rest, ok := strings.Cut(encoded, "$")
	if !ok || scheme != hashScheme {
		return false, fmt.Errorf("auth: unsupported hash format")
	}
	saltStr, sumStr, ok := strings.Cut(rest, "$")
	if !ok {
		return false, fmt.Errorf("auth: malformed hash")
	}
	salt, err := b64.DecodeString(saltStr)
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := b64.DecodeString(sumStr)
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// dummyVerify burns the same work as a real check so an unknown client_id
// costs as much as a wrong key.
func dummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}
