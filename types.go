package main

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	PIN      string `json:"pin" validate:"required,max=64"`
}

type TransferRequest struct {
	Amount string `json:"amount" validate:"max=64"`
	To     string `json:"to" validate:"required,max=64"`
}

type AmountRequest struct {
	Amount string `json:"amount" validate:"max=64"`
}

type CloseAccountRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	PIN      string `json:"pin" validate:"required,max=64"`
}

// Account is one ledger entry. Balance is never stored; see ComputeBalance.
type Account struct {
	Owner        string    `json:"owner"`
	Username     string    `json:"username"`
	PIN          int       `json:"-"`
	InterestRate float64   `json:"interestRate"`
	Movements    []float64 `json:"movements"`
}

func NewAccount(owner string, pin int, interestRate float64, movements ...float64) *Account {
	return &Account{
		Owner:        owner,
		PIN:          pin,
		InterestRate: interestRate,
		Movements:    append([]float64(nil), movements...),
	}
}

// DemoAccounts returns fresh copies of the four accounts the app boots with.
func DemoAccounts() []*Account {
	return []*Account{
		NewAccount("Jonas Schmedtmann", 1111, 1.2, 200, 450, -400, 3000, -650, -130, 70, 1300),
		NewAccount("Jessica Davis", 2222, 1.5, 5000, 3400, -150, -790, -3210, -1000, 8500, -30),
		NewAccount("Steven Thomas Williams", 3333, 0.7, 200, -200, 340, -300, -20, 50, 400, -460),
		NewAccount("Sarah Smith", 4444, 1, 430, 1000, 700, 50, 90),
	}
}
