package main

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

const (
	PINSchemePlain  = "plain"
	PINSchemeBcrypt = "bcrypt"
)

// PINMatcher is the only place an entered PIN is checked against an account.
type PINMatcher interface {
	Match(acc *Account, entered float64) bool
}

// PlainPINMatcher compares the stored PIN and the entered number for exact
// numeric equality.
type PlainPINMatcher struct{}

func (PlainPINMatcher) Match(acc *Account, entered float64) bool {
	return float64(acc.PIN) == entered
}

// BcryptPINMatcher keeps a bcrypt hash of every PIN's canonical decimal form.
// Two numbers are equal exactly when their canonical forms are, so it accepts
// the same inputs as PlainPINMatcher.
type BcryptPINMatcher struct {
	hashes map[*Account][]byte
}

func NewBcryptPINMatcher(accounts []*Account, cost int) (*BcryptPINMatcher, error) {
	m := &BcryptPINMatcher{hashes: make(map[*Account][]byte, len(accounts))}
	for _, acc := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(canonicalPIN(float64(acc.PIN))), cost)
		if err != nil {
			return nil, fmt.Errorf("hashing pin for %s: %w", acc.Username, err)
		}
		m.hashes[acc] = hash
	}
	return m, nil
}

func (m *BcryptPINMatcher) Match(acc *Account, entered float64) bool {
	hash, ok := m.hashes[acc]
	if !ok || math.IsNaN(entered) || math.IsInf(entered, 0) {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(canonicalPIN(entered))) == nil
}

// canonicalPIN folds -0 into 0 so both spell the same.
func canonicalPIN(pin float64) string {
	return strconv.FormatFloat(pin+0, 'f', -1, 64)
}

func NewPINMatcher(cfg EnvConfig, accounts []*Account) (PINMatcher, error) {
	switch cfg.PINScheme {
	case PINSchemeBcrypt:
		return NewBcryptPINMatcher(accounts, cfg.BcryptCost)
	case PINSchemePlain, "":
		return PlainPINMatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown pin scheme %q", cfg.PINScheme)
	}
}
