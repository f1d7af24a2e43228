package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Prefix = "$argon2id$"
	maxPassBytes = 1024
)

// Lower bounds accepted both for configuration and for stored hashes.
const (
	floorMemoryKB    uint32 = 8 * 1024
	floorTime        uint32 = 1
	floorParallelism uint8  = 1
	floorSaltLength         = 16
	floorKeyLength   uint32 = 16
)

// ErrMalformedHash is returned when a stored hash cannot be decoded.
var ErrMalformedHash = errors.New("malformed password hash")

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Argon2 hashes passwords into PHC strings and verifies them.
type Argon2 struct {
	config Config
}

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$key" string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (p phc) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, p.memory, p.time, p.parallelism,
		base64.StdEncoding.EncodeToString(p.salt),
		base64.StdEncoding.EncodeToString(p.key))
}

func (p phc) derive(password string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, keyLen)
}

// NewArgon2 validates cfg against the minimum accepted costs.
func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < floorMemoryKB:
		return nil, fmt.Errorf("password memory must be >= %d KB", floorMemoryKB)
	case cfg.Time < floorTime:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < floorParallelism:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < floorSaltLength:
		return nil, fmt.Errorf("password salt length must be >= %d", floorSaltLength)
	case cfg.KeyLength < floorKeyLength:
		return nil, fmt.Errorf("password key length must be >= %d", floorKeyLength)
	}
	return &Argon2{config: cfg}, nil
}

// Hash returns the PHC encoding of password under a fresh salt. Complexity
// rules live in PolicyEngine; Hash refuses only empty or oversized input.
func (a *Argon2) Hash(password string) (string, error) {
	switch {
	case password == "":
		return "", errors.New("password must not be empty")
	case len(password) > maxPassBytes:
		return "", errors.New("password exceeds maximum length")
	}

	p := phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        make([]byte, a.config.SaltLength),
	}
	if _, err := rand.Read(p.salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	p.key = p.derive(password, a.config.KeyLength)
	return p.String(), nil
}

// Verify reports whether password matches encodedHash in constant time.
// The error is non-nil only for hashes that fail to decode.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > maxPassBytes {
		return false, nil
	}
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(password, uint32(len(p.key))), p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	weaker := p.memory < a.config.Memory ||
		p.time < a.config.Time ||
		p.parallelism < a.config.Parallelism ||
		uint32(len(p.key)) != a.config.KeyLength
	return weaker, nil
}

// Handles reports whether encodedHash is an argon2id PHC string.
func (a *Argon2) Handles(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, argon2Prefix)
}

func decodePHC(s string) (phc, error) {
	var p phc
	if !strings.HasPrefix(s, argon2Prefix) {
		return p, fmt.Errorf("%w: not argon2id", ErrMalformedHash)
	}
	fields := strings.Split(strings.TrimPrefix(s, argon2Prefix), "$")
	if len(fields) != 4 {
		return p, fmt.Errorf("%w: expected 4 fields, got %d", ErrMalformedHash, len(fields))
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil {
		return p, fmt.Errorf("%w: version", ErrMalformedHash)
	}
	if version != argon2.Version {
		return p, fmt.Errorf("%w: unsupported version %d", ErrMalformedHash, version)
	}

	var parallelism uint32
	n, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &p.memory, &p.time, &parallelism)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, parallelism) != fields[1] {
		return p, fmt.Errorf("%w: parameters", ErrMalformedHash)
	}
	if p.memory < floorMemoryKB || p.time < floorTime || parallelism < uint32(floorParallelism) || parallelism > 255 {
		return p, fmt.Errorf("%w: parameters below floor", ErrMalformedHash)
	}
	p.parallelism = uint8(parallelism)

	if p.salt, err = base64.StdEncoding.DecodeString(fields[2]); err != nil || len(p.salt) < floorSaltLength {
		return p, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = base64.StdEncoding.DecodeString(fields[3]); err != nil || len(p.key) == 0 {
		return p, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, nil
}
