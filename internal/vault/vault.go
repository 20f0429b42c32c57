// Package vault holds the lock box's passwords.
//
// The master and unlock passwords are kept sealed in memguard enclaves and are
// only opened for the duration of a comparison. Fortress emergency codes are
// stored as bcrypt hashes; each code can succeed exactly once until Reset.
//
// All passwords are sequences of Length digits, each 0-9, passed as raw digit
// values (not ASCII).
package vault

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/bcrypt"
)

// Length is the number of digits in every password.
const Length = 7

var (
	// ErrBadLength is returned for passwords that are not exactly Length digits.
	ErrBadLength = errors.New("vault: password must be 7 digits")
	// ErrBadDigit is returned for passwords containing values outside 0-9.
	ErrBadDigit = errors.New("vault: digit out of range")
)

// Config describes the factory contents of a vault.
type Config struct {
	Master        []byte
	Unlock        []byte   // factory unlock password, restored by Reset
	FortressCodes [][]byte // scanned in order
	Cost          int      // bcrypt cost for fortress code hashes
}

// DefaultConfig returns the factory passwords: master 6666666, unlock 0000000
// and the six fortress codes 1111111 through 6666666.
func DefaultConfig() Config {
	codes := make([][]byte, 6)
	for i := range codes {
		codes[i] = repeat(byte(i + 1))
	}
	return Config{
		Master:        repeat(6),
		Unlock:        repeat(0),
		FortressCodes: codes,
		Cost:          8,
	}
}

type fortressCode struct {
	hash []byte
	used bool
}

// Vault stores the passwords. Not safe for concurrent use.
type Vault struct {
	master        *memguard.Enclave
	unlock        *memguard.Enclave
	factoryUnlock *memguard.Enclave
	codes         []fortressCode
}

// New validates cfg and builds a sealed vault.
func New(cfg Config) (*Vault, error) {
	if err := Validate(cfg.Master); err != nil {
		return nil, fmt.Errorf("master password: %w", err)
	}
	if err := Validate(cfg.Unlock); err != nil {
		return nil, fmt.Errorf("unlock password: %w", err)
	}
	cost := cfg.Cost
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}

	v := &Vault{
		master:        seal(cfg.Master),
		unlock:        seal(cfg.Unlock),
		factoryUnlock: seal(cfg.Unlock),
	}

	seen := make(map[string]bool)
	for i, code := range cfg.FortressCodes {
		if err := Validate(code); err != nil {
			return nil, fmt.Errorf("fortress code %d: %w", i, err)
		}
		key := string(code)
		if seen[key] {
			return nil, fmt.Errorf("fortress code %d: duplicate", i)
		}
		seen[key] = true

		hash, err := bcrypt.GenerateFromPassword(ascii(code), cost)
		if err != nil {
			return nil, fmt.Errorf("hash fortress code %d: %w", i, err)
		}
		v.codes = append(v.codes, fortressCode{hash: hash})
	}
	return v, nil
}

// Validate reports whether digits is a well-formed password.
func Validate(digits []byte) error {
	if len(digits) != Length {
		return ErrBadLength
	}
	for _, d := range digits {
		if d > 9 {
			return ErrBadDigit
		}
	}
	return nil
}

// IsMaster reports whether digits equal the master password.
func (v *Vault) IsMaster(digits []byte) bool {
	return matches(v.master, digits)
}

// MatchUnlock reports whether digits equal the unlock password or the master
// password.
func (v *Vault) MatchUnlock(digits []byte) bool {
	return matches(v.unlock, digits) || matches(v.master, digits)
}

// UseFortressCode scans the unused fortress codes in order. The first match is
// marked used and its slot returned.
func (v *Vault) UseFortressCode(digits []byte) (int, bool) {
	if Validate(digits) != nil {
		return -1, false
	}
	pw := ascii(digits)
	for i := range v.codes {
		if v.codes[i].used {
			continue
		}
		if bcrypt.CompareHashAndPassword(v.codes[i].hash, pw) == nil {
			v.codes[i].used = true
			return i, true
		}
	}
	return -1, false
}

// FortressRemaining returns the number of unused fortress codes.
func (v *Vault) FortressRemaining() int {
	n := 0
	for _, c := range v.codes {
		if !c.used {
			n++
		}
	}
	return n
}

// UnlockCode returns a copy of the current unlock password.
func (v *Vault) UnlockCode() []byte {
	buf, err := v.unlock.Open()
	if err != nil {
		return make([]byte, Length)
	}
	defer buf.Destroy()
	out := make([]byte, Length)
	copy(out, buf.Bytes())
	return out
}

// SetUnlockCode replaces the unlock password.
func (v *Vault) SetUnlockCode(digits []byte) error {
	if err := Validate(digits); err != nil {
		return err
	}
	v.unlock = seal(digits)
	return nil
}

// Reset restores the factory unlock password and makes every fortress code
// usable again.
func (v *Vault) Reset() {
	buf, err := v.factoryUnlock.Open()
	if err == nil {
		v.unlock = seal(buf.Bytes())
		buf.Destroy()
	}
	for i := range v.codes {
		v.codes[i].used = false
	}
}

// seal copies digits into a new enclave. memguard wipes the slice it is
// given, so the caller's buffer is never handed over.
func seal(digits []byte) *memguard.Enclave {
	tmp := make([]byte, len(digits))
	copy(tmp, digits)
	return memguard.NewEnclave(tmp)
}

func matches(e *memguard.Enclave, digits []byte) bool {
	if e == nil || Validate(digits) != nil {
		return false
	}
	buf, err := e.Open()
	if err != nil {
		return false
	}
	defer buf.Destroy()
	return buf.EqualTo(digits)
}

func ascii(digits []byte) []byte {
	out := make([]byte, len(digits))
	for i, d := range digits {
		out[i] = '0' + d
	}
	return out
}

func repeat(d byte) []byte {
	out := make([]byte, Length)
	for i := range out {
		out[i] = d
	}
	return out
}
