// Package pinvault stores and validates the check-in PIN. Only an argon2id
// hash of the PIN is ever persisted.
package pinvault

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	apperrors "github.com/lcrostarosa/safecheck/internal/errors"
	"github.com/lcrostarosa/safecheck/internal/kv"
	"github.com/lcrostarosa/safecheck/internal/logging"
)

// Key is the storage key of the PIN record.
const Key = "pin/record"

const (
	recordVersion = 1
	saltLen       = 16
	minPinLen     = 4
	maxPinLen     = 6
)

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"` // KiB
	Threads uint8  `json:"threads"`
	KeyLen  uint32 `json:"key_len"`
}

// DefaultParams matches the key-derivation cost used for secrets elsewhere.
func DefaultParams() Params {
	return Params{
		Time:    3,
		Memory:  64 * 1024, // 64 MB
		Threads: 4,
		KeyLen:  32,
	}
}

type record struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Hash    []byte `json:"hash"`
	Params  Params `json:"params"`
}

// Vault is a PIN store backed by a kv.Store.
type Vault struct {
	kv     kv.Store
	params Params
}

// Option configures a Vault.
type Option func(*Vault)

// WithParams overrides the argon2id parameters used for new PINs. Existing
// records keep validating with the parameters they were hashed with.
func WithParams(p Params) Option {
	return func(v *Vault) { v.params = p }
}

// New creates a vault over s.
func New(s kv.Store, opts ...Option) *Vault {
	v := &Vault{kv: s, params: DefaultParams()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateFormat checks that pin is 4-6 ASCII digits.
func ValidateFormat(pin string) error {
	if len(pin) < minPinLen || len(pin) > maxPinLen {
		return apperrors.ErrInvalidPin
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return apperrors.ErrInvalidPin
		}
	}
	return nil
}

// HasPin reports whether a PIN has been set.
func (v *Vault) HasPin(ctx context.Context) (bool, error) {
	_, err := v.load(ctx)
	if errors.Is(err, apperrors.ErrNoPin) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetPin hashes and stores pin, replacing any previous PIN.
func (v *Vault) SetPin(ctx context.Context, pin string) error {
	if err := ValidateFormat(pin); err != nil {
		return err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	rec := record{
		Version: recordVersion,
		Salt:    salt,
		Hash:    hash(pin, salt, v.params),
		Params:  v.params,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pin record: %w", err)
	}
	if err := v.kv.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("persist pin: %w", err)
	}
	logging.Info("Check-in PIN updated")
	return nil
}

// Validate reports whether candidate matches the stored PIN. It returns
// ErrNoPin when none is set.
func (v *Vault) Validate(ctx context.Context, candidate string) (bool, error) {
	rec, err := v.load(ctx)
	if err != nil {
		return false, err
	}
	got := hash(candidate, rec.Salt, rec.Params)
	return subtle.ConstantTimeCompare(got, rec.Hash) == 1, nil
}

// RemovePin clears the stored PIN.
func (v *Vault) RemovePin(ctx context.Context) error {
	if err := v.kv.Delete(ctx, Key); err != nil {
		return fmt.Errorf("remove pin: %w", err)
	}
	logging.Info("Check-in PIN removed")
	return nil
}

func (v *Vault) load(ctx context.Context) (*record, error) {
	data, err := v.kv.Get(ctx, Key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, apperrors.ErrNoPin
	}
	if err != nil {
		return nil, fmt.Errorf("load pin: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode pin record: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported pin record version %d", rec.Version)
	}
	if len(rec.Hash) == 0 {
		return nil, apperrors.ErrNoPin
	}
	return &rec, nil
}

func hash(pin string, salt []byte, p Params) []byte {
	return argon2.IDKey([]byte(pin), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}
