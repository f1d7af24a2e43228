package otp

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/MrEthical07/gmpAuth/internal"
)

const (
	// DefaultRecoveryCodeCount is the size of a recovery code batch.
	DefaultRecoveryCodeCount = 10
	// DefaultRecoveryCodeLength is the number of digits per recovery code.
	DefaultRecoveryCodeLength = 8
)

// GenerateRecoveryCodes returns a batch of distinct numeric codes.
func (e *Engine) GenerateRecoveryCodes() ([]string, error) {
	codes := make([]string, 0, e.recoveryCount)
	seen := make(map[string]struct{}, e.recoveryCount)

	for len(codes) < e.recoveryCount {
		code, err := internal.RandomDigits(e.recoveryLen)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// CanonicalRecoveryCode strips separators users commonly type.
func CanonicalRecoveryCode(code string) string {
	s := strings.TrimSpace(code)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashRecoveryCode binds a code to its owner so equal codes of different
// users never share a digest.
func HashRecoveryCode(userID, code string) string {
	canonical := CanonicalRecoveryCode(code)
	data := make([]byte, 0, len(userID)+1+len(canonical))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashRecoveryCodes hashes a whole batch for storage.
func HashRecoveryCodes(userID string, codes []string) []string {
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = HashRecoveryCode(userID, code)
	}
	return out
}

// MatchRecoveryCode returns the index of the stored hash matching code, or
// -1. Every hash is compared so timing does not leak the position.
func MatchRecoveryCode(userID, code string, hashes []string) int {
	if CanonicalRecoveryCode(code) == "" {
		return -1
	}
	candidate := []byte(HashRecoveryCode(userID, code))

	found := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare(candidate, []byte(h)) == 1 && found < 0 {
			found = i
		}
	}
	return found
}
