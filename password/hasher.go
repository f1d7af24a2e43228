package password

import "errors"

// ErrUnsupportedHash is returned for hashes no configured scheme recognises.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// Hasher is the contract shared by login, password change and reuse checks.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

type verifier interface {
	Handles(encodedHash string) bool
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// MultiHasher writes argon2id and verifies argon2id or legacy bcrypt.
type MultiHasher struct {
	primary *Argon2
	legacy  []verifier
}

// NewMultiHasher builds the default hasher. legacyBcrypt enables
// verification of bcrypt hashes.
func NewMultiHasher(cfg Config, legacyBcrypt bool) (*MultiHasher, error) {
	primary, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	h := &MultiHasher{primary: primary}
	if legacyBcrypt {
		h.legacy = append(h.legacy, NewBcrypt(0))
	}
	return h, nil
}

func (h *MultiHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *MultiHasher) Verify(password, encodedHash string) (bool, error) {
	v, err := h.pick(encodedHash)
	if err != nil {
		return false, err
	}
	return v.Verify(password, encodedHash)
}

func (h *MultiHasher) NeedsUpgrade(encodedHash string) (bool, error) {
	v, err := h.pick(encodedHash)
	if err != nil {
		return false, err
	}
	return v.NeedsUpgrade(encodedHash)
}

func (h *MultiHasher) pick(encodedHash string) (verifier, error) {
	if h.primary.Handles(encodedHash) {
		return h.primary, nil
	}
	for _, v := range h.legacy {
		if v.Handles(encodedHash) {
			return v, nil
		}
	}
	return nil, ErrUnsupportedHash
}
