package wallet

import (
	"context"
	"errors"
)

var (
	// ErrNotInstalled means no wallet provider is available.
	ErrNotInstalled = errors.New("wallet: provider not installed")
	// ErrUserRejected means the holder declined the request.
	ErrUserRejected = errors.New("wallet: request rejected by user")
	// ErrNotConnected means no account has been authorized yet.
	ErrNotConnected = errors.New("wallet: not connected")
)

// Balance is the native balance in sompi.
type Balance struct {
	Confirmed   uint64 `json:"confirmed"`
	Unconfirmed uint64 `json:"unconfirmed"`
	Total       uint64 `json:"total"`
}

// KRC20Balance is one token row as reported by the wallet. Balance is in
// base units and Dec is the token's decimals, both as strings.
type KRC20Balance struct {
	Tick       string `json:"tick"`
	Balance    string `json:"balance"`
	Dec        string `json:"dec"`
	Locked     string `json:"locked"`
	OpScoreMod string `json:"opScoreMod"`
}

// Provider is the wallet capability the swap flow consumes. Every call may
// block on user approval and must honour ctx cancellation.
type Provider interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	GetAccounts(ctx context.Context) ([]string, error)
	Disconnect(ctx context.Context, origin string) error

	GetBalance(ctx context.Context) (*Balance, error)
	GetKRC20Balance(ctx context.Context) ([]KRC20Balance, error)
	GetPublicKey(ctx context.Context) (string, error)

	SignMessage(ctx context.Context, message string) (string, error)
	SignKRC20Transaction(ctx context.Context, payload string, op int, to string) (string, error)
	SignPSKT(ctx context.Context, pskt string) (string, error)

	// OnAccountsChanged registers fn and returns a function that removes it.
	OnAccountsChanged(fn func(accounts []string)) (unsubscribe func())
}
