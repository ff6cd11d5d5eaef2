package main

import (
	"go.uber.org/zap"
)

type ActionKind string

const (
	ActionLogin    ActionKind = "login"
	ActionTransfer ActionKind = "transfer"
	ActionDeposit  ActionKind = "deposit"
	ActionWithdraw ActionKind = "withdraw"
	ActionClose    ActionKind = "close"
	ActionSort     ActionKind = "sort"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusRejected  Status = "rejected"
)

type Reason string

const (
	ReasonNotAuthenticated    Reason = "not_authenticated"
	ReasonUnknownAccount      Reason = "unknown_account"
	ReasonWrongPIN            Reason = "wrong_pin"
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonSelfTransfer        Reason = "self_transfer"
	ReasonLoanNotEligible     Reason = "loan_not_eligible"
	ReasonIdentityMismatch    Reason = "identity_mismatch"
	ReasonInvalidRequest      Reason = "invalid_request"
	ReasonUnknownAction       Reason = "unknown_action"
)

// Outcome reports what happened to one action. A rejected action leaves
// the ledger and the session exactly as they were.
type Outcome struct {
	Action  ActionKind        `json:"action"`
	Status  Status            `json:"status"`
	Reason  Reason            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func (o Outcome) Succeeded() bool { return o.Status == StatusSucceeded }

func succeeded(action ActionKind) Outcome {
	return Outcome{Action: action, Status: StatusSucceeded}
}

func rejected(action ActionKind, reason Reason) Outcome {
	return Outcome{Action: action, Status: StatusRejected, Reason: reason}
}

// Request is one discrete action as it arrives from the UI, with every
// field still in text form.
type Request struct {
	Kind      ActionKind
	Username  string
	PIN       string
	Amount    string
	Recipient string
}

// ViewPublisher receives the refreshed view after every successful action.
type ViewPublisher interface {
	Publish(View)
}

type noopPublisher struct{}

func (noopPublisher) Publish(View) {}

// Controller owns the session: which account is logged in and whether its
// movements are shown sorted. It is the ledger's only writer and, like the
// ledger, expects its callers to deliver one action at a time.
type Controller struct {
	ledger    Storage
	pins      PINMatcher
	publisher ViewPublisher
	log       *zap.Logger

	current *Account
	sorted  bool
}

func NewController(ledger Storage, pins PINMatcher, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		ledger:    ledger,
		pins:      pins,
		publisher: noopPublisher{},
		log:       logger,
	}
}

func (c *Controller) SetPublisher(p ViewPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	c.publisher = p
}

// Current returns the logged-in account, or nil.
func (c *Controller) Current() *Account { return c.current }

func (c *Controller) Sorted() bool { return c.sorted }

func (c *Controller) View() View { return BuildView(c.current, c.sorted) }

func (c *Controller) Dispatch(req Request) Outcome {
	switch req.Kind {
	case ActionLogin:
		return c.Login(req.Username, req.PIN)
	case ActionTransfer:
		return c.Transfer(req.Amount, req.Recipient)
	case ActionDeposit:
		return c.Deposit(req.Amount)
	case ActionWithdraw:
		return c.Withdraw(req.Amount)
	case ActionClose:
		return c.Close(req.Username, req.PIN)
	case ActionSort:
		return c.ToggleSort()
	default:
		return c.reject(req.Kind, ReasonUnknownAction)
	}
}

// Login replaces the session with username's account when pinText matches.
func (c *Controller) Login(username, pinText string) Outcome {
	acc, err := c.ledger.FindByUsername(username)
	if err != nil {
		return c.reject(ActionLogin, ReasonUnknownAccount)
	}
	if !c.pins.Match(acc, ParseNumber(pinText)) {
		return c.reject(ActionLogin, ReasonWrongPIN)
	}

	c.current = acc
	c.sorted = false
	return c.succeed(ActionLogin)
}

func (c *Controller) Transfer(amountText, recipient string) Outcome {
	if c.current == nil {
		return c.reject(ActionTransfer, ReasonNotAuthenticated)
	}
	amount := ParseNumber(amountText)
	if !(amount > 0) {
		return c.reject(ActionTransfer, ReasonInvalidAmount)
	}
	to, err := c.ledger.FindByUsername(recipient)
	if err != nil {
		return c.reject(ActionTransfer, ReasonUnknownAccount)
	}
	// Strict: the whole balance can never be sent.
	if !(amount < ComputeBalance(c.current)) {
		return c.reject(ActionTransfer, ReasonInsufficientBalance)
	}
	if to.Username == c.current.Username {
		return c.reject(ActionTransfer, ReasonSelfTransfer)
	}

	c.ledger.AddMovement(c.current, -amount)
	c.ledger.AddMovement(to, amount)
	return c.succeed(ActionTransfer, zap.Float64("amount", amount), zap.String("to", to.Username))
}

// Deposit grants a loan of amountText when some earlier movement exceeds a
// tenth of it.
func (c *Controller) Deposit(amountText string) Outcome {
	if c.current == nil {
		return c.reject(ActionDeposit, ReasonNotAuthenticated)
	}
	amount := ParseNumber(amountText)
	if !(amount > 0) {
		return c.reject(ActionDeposit, ReasonInvalidAmount)
	}
	eligible := false
	for _, mov := range c.current.Movements {
		if mov > 0.1*amount {
			eligible = true
			break
		}
	}
	if !eligible {
		return c.reject(ActionDeposit, ReasonLoanNotEligible)
	}

	c.ledger.AddMovement(c.current, amount)
	return c.succeed(ActionDeposit, zap.Float64("amount", amount))
}

// Withdraw only checks amount < balance. Zero and negative amounts pass,
// and a negative one credits the account.
func (c *Controller) Withdraw(amountText string) Outcome {
	if c.current == nil {
		return c.reject(ActionWithdraw, ReasonNotAuthenticated)
	}
	amount := ParseNumber(amountText)
	if !(amount < ComputeBalance(c.current)) {
		return c.reject(ActionWithdraw, ReasonInsufficientBalance)
	}

	c.ledger.AddMovement(c.current, -amount)
	return c.succeed(ActionWithdraw, zap.Float64("amount", amount))
}

// Close removes the logged-in account after its owner re-enters their
// username and PIN, then ends the session.
func (c *Controller) Close(username, pinText string) Outcome {
	if c.current == nil {
		return c.reject(ActionClose, ReasonNotAuthenticated)
	}
	if username != c.current.Username || !c.pins.Match(c.current, ParseNumber(pinText)) {
		return c.reject(ActionClose, ReasonIdentityMismatch)
	}
	if err := c.ledger.RemoveAccount(c.current.Username); err != nil {
		c.log.Error("closing account", zap.String("username", c.current.Username), zap.Error(err))
		return c.reject(ActionClose, ReasonUnknownAccount)
	}

	closed := c.current.Username
	c.current = nil
	c.sorted = false
	return c.succeed(ActionClose, zap.String("closed", closed))
}

func (c *Controller) ToggleSort() Outcome {
	if c.current == nil {
		return c.reject(ActionSort, ReasonNotAuthenticated)
	}
	c.sorted = !c.sorted
	return c.succeed(ActionSort, zap.Bool("sorted", c.sorted))
}

func (c *Controller) succeed(action ActionKind, fields ...zap.Field) Outcome {
	if c.current != nil {
		fields = append(fields, zap.String("username", c.current.Username))
	}
	c.log.Info("action "+string(action), fields...)
	c.publisher.Publish(c.View())
	return succeeded(action)
}

func (c *Controller) reject(action ActionKind, reason Reason) Outcome {
	c.log.Debug("action rejected", zap.String("action", string(action)), zap.String("reason", string(reason)))
	return rejected(action, reason)
}
