package otp

import (
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/gmpAuth/internal"
	pqotp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// SecretBytes is the amount of entropy in a generated secret.
	SecretBytes = 16
	// Digits is the length of a generated code.
	Digits = 6
	// Period is the TOTP time step.
	Period = 30 * time.Second
	// SkewSteps is how many steps either side of now a code may come from.
	SkewSteps = 1
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config tunes an Engine.
type Config struct {
	Issuer            string
	RecoveryCodeCount int
	RecoveryCodeLen   int
	Now               func() time.Time
}

// Engine generates and verifies RFC 6238 codes over base64-encoded secrets.
type Engine struct {
	issuer        string
	recoveryCount int
	recoveryLen   int
	now           func() time.Time
}

// New returns an Engine. Zero config fields take the package defaults.
func New(cfg Config) *Engine {
	if cfg.RecoveryCodeCount <= 0 {
		cfg.RecoveryCodeCount = DefaultRecoveryCodeCount
	}
	if cfg.RecoveryCodeLen <= 0 {
		cfg.RecoveryCodeLen = DefaultRecoveryCodeLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		issuer:        cfg.Issuer,
		recoveryCount: cfg.RecoveryCodeCount,
		recoveryLen:   cfg.RecoveryCodeLen,
		now:           cfg.Now,
	}
}

// GenerateSecret returns base64(16 random bytes).
func (e *Engine) GenerateSecret() (string, error) {
	raw, err := internal.RandomBytes(SecretBytes)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Code computes the code for secret at t.
func (e *Engine) Code(secret string, t time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return totp.GenerateCodeCustom(key, t, totp.ValidateOpts{
		Period:    uint(Period / time.Second),
		Digits:    pqotp.DigitsSix,
		Algorithm: pqotp.AlgorithmSHA1,
	})
}

// Verify checks code against the current time.
func (e *Engine) Verify(secret, code string) bool {
	return e.VerifyAt(secret, code, e.now())
}

// VerifyAt accepts code if it matches the step at t or one step either
// side. Malformed secrets and codes simply fail.
func (e *Engine) VerifyAt(secret, code string, t time.Time) bool {
	_, ok := e.Match(secret, code, t)
	return ok
}

// Match is VerifyAt that also reports the matched time step, the Unix time
// divided by the period. Callers that keep the last accepted step can
// refuse a code seen before.
func (e *Engine) Match(secret, code string, t time.Time) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != Digits || !isDigits(code) {
		return 0, false
	}

	current := t.Unix() / int64(Period/time.Second)
	matched := int64(-1)
	for offset := -SkewSteps; offset <= SkewSteps; offset++ {
		want, err := e.Code(secret, t.Add(time.Duration(offset)*Period))
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 && matched < 0 {
			matched = current + int64(offset)
		}
	}
	return matched, matched >= 0
}

// EnrollmentURI renders the otpauth provisioning URI with the engine issuer.
func (e *Engine) EnrollmentURI(account, secret string) string {
	return EnrollmentURI(account, secret, e.issuer)
}

// EnrollmentURI renders
// otpauth://totp/<issuer:account>?secret=..&issuer=..&algorithm=SHA1&digits=6&period=30.
func EnrollmentURI(account, secret, issuer string) string {
	label := account
	if issuer != "" {
		label = issuer + ":" + account
	}

	var b strings.Builder
	b.WriteString("otpauth://totp/")
	b.WriteString(url.PathEscape(label))
	b.WriteString("?secret=")
	b.WriteString(url.QueryEscape(secret))
	b.WriteString("&issuer=")
	b.WriteString(url.QueryEscape(issuer))
	b.WriteString("&algorithm=SHA1&digits=6&period=30")
	return b.String()
}

// decodeSecret turns the stored base64 secret into the base32 form the
// totp package consumes.
func decodeSecret(secret string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", errors.New("empty otp secret")
	}
	return base32NoPad.EncodeToString(raw), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
