package main

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrAccountNotFound = errors.New("account not found")

type Storage interface {
	RegisterAccount(*Account)
	FindByUsername(string) (*Account, error)
	AddMovement(*Account, float64)
	RemoveAccount(string) error
	GetAllAccount() []*Account
}

// Ledger keeps accounts in registration order. Lookups return the first
// match, so a duplicate username is shadowed by the earlier account.
// It is not safe for concurrent use; callers serialize access.
type Ledger struct {
	accounts []*Account
}

func NewLedger(accounts ...*Account) *Ledger {
	l := &Ledger{}
	for _, acc := range accounts {
		l.RegisterAccount(acc)
	}
	return l
}

func (l *Ledger) RegisterAccount(acc *Account) {
	acc.Username = DeriveUsername(acc.Owner)
	l.accounts = append(l.accounts, acc)
}

func (l *Ledger) FindByUsername(username string) (*Account, error) {
	for _, acc := range l.accounts {
		if acc.Username == username {
			return acc, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (l *Ledger) AddMovement(acc *Account, amount float64) {
	acc.Movements = append(acc.Movements, amount)
}

func (l *Ledger) RemoveAccount(username string) error {
	for i, acc := range l.accounts {
		if acc.Username == username {
			l.accounts = append(l.accounts[:i], l.accounts[i+1:]...)
			return nil
		}
	}
	return ErrAccountNotFound
}

func (l *Ledger) GetAllAccount() []*Account {
	out := make([]*Account, len(l.accounts))
	copy(out, l.accounts)
	return out
}

// DeriveUsername lower-cases owner and joins the first character of every
// space separated word: "Steven Thomas Williams" -> "stw".
func DeriveUsername(owner string) string {
	var b strings.Builder
	for _, word := range strings.Split(strings.ToLower(owner), " ") {
		if r, size := utf8.DecodeRuneInString(word); size > 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func ComputeBalance(acc *Account) float64 {
	var balance float64
	for _, mov := range acc.Movements {
		balance += mov
	}
	return balance
}

type Summary struct {
	TotalIn  float64 `json:"totalIn"`
	TotalOut float64 `json:"totalOut"`
	Interest float64 `json:"interest"`
}

// ComputeSummary totals inflows and outflows. Interest is paid per deposit
// and a deposit earning less than 1 contributes nothing.
func ComputeSummary(acc *Account) Summary {
	var s Summary
	for _, mov := range acc.Movements {
		switch {
		case mov > 0:
			s.TotalIn += mov
			if interest := mov * acc.InterestRate / 100; interest >= 1 {
				s.Interest += interest
			}
		case mov < 0:
			s.TotalOut += -mov
		}
	}
	return s
}
