package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// RequestKind names the wallet call awaiting approval.
type RequestKind string

const (
	RequestAccounts    RequestKind = "requestAccounts"
	RequestSignMessage RequestKind = "signMessage"
	RequestSignKRC20   RequestKind = "signKRC20Transaction"
	RequestSignPSKT    RequestKind = "signPSKT"
)

// Approver decides whether the holder accepts a request. Returning an error
// declines it; returning nil approves.
type Approver func(ctx context.Context, kind RequestKind, payload string) error

// AutoApprove accepts every request.
func AutoApprove(context.Context, RequestKind, string) error { return nil }

type LocalConfig struct {
	PrivateKey string // base58-encoded 64-byte key OR JSON byte array
	Address    string // defaults to the base58 public key
	Approver   Approver

	Balance Balance
	Tokens  []KRC20Balance
}

// LocalWallet is an ed25519 development wallet that implements Provider
// in-process. It holds static balances and never touches a network.
type LocalWallet struct {
	priv     solana.PrivateKey
	pub      solana.PublicKey
	address  string
	approver Approver

	mu        sync.Mutex
	connected bool
	balance   Balance
	tokens    []KRC20Balance
	listeners map[int]func([]string)
	nextID    int
}

var _ Provider = (*LocalWallet)(nil)

func NewLocalWallet(cfg LocalConfig) (*LocalWallet, error) {
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, fmt.Errorf("wallet: PrivateKey is required")
	}
	priv, err := parsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if cfg.Approver == nil {
		cfg.Approver = AutoApprove
	}

	pub := priv.PublicKey()
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		addr = pub.String()
	}

	return &LocalWallet{
		priv:      priv,
		pub:       pub,
		address:   addr,
		approver:  cfg.Approver,
		balance:   cfg.Balance,
		tokens:    append([]KRC20Balance(nil), cfg.Tokens...),
		listeners: make(map[int]func([]string)),
	}, nil
}

// NewRandomLocalWallet generates a throwaway key.
func NewRandomLocalWallet(cfg LocalConfig) (*LocalWallet, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	cfg.PrivateKey = priv.String()
	return NewLocalWallet(cfg)
}

func (w *LocalWallet) Address() string { return w.address }

func (w *LocalWallet) RequestAccounts(ctx context.Context) ([]string, error) {
	if err := w.approve(ctx, RequestAccounts, w.address); err != nil {
		return nil, err
	}

	w.mu.Lock()
	changed := !w.connected
	w.connected = true
	w.mu.Unlock()

	accounts := []string{w.address}
	if changed {
		w.notify(accounts)
	}
	return accounts, nil
}

func (w *LocalWallet) GetAccounts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return []string{}, nil
	}
	return []string{w.address}, nil
}

func (w *LocalWallet) Disconnect(ctx context.Context, origin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	was := w.connected
	w.connected = false
	w.mu.Unlock()

	if was {
		w.notify([]string{})
	}
	return nil
}

func (w *LocalWallet) GetBalance(ctx context.Context) (*Balance, error) {
	if err := w.requireConnected(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	b := w.balance
	w.mu.Unlock()
	return &b, nil
}

func (w *LocalWallet) GetKRC20Balance(ctx context.Context) ([]KRC20Balance, error) {
	if err := w.requireConnected(ctx); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]KRC20Balance(nil), w.tokens...), nil
}

func (w *LocalWallet) GetPublicKey(ctx context.Context) (string, error) {
	if err := w.requireConnected(ctx); err != nil {
		return "", err
	}
	return w.pub.String(), nil
}

// SignMessage returns the base58 ed25519 signature over message.
func (w *LocalWallet) SignMessage(ctx context.Context, message string) (string, error) {
	if err := w.requireConnected(ctx); err != nil {
		return "", err
	}
	if err := w.approve(ctx, RequestSignMessage, message); err != nil {
		return "", err
	}
	return w.sign([]byte(message))
}

func (w *LocalWallet) SignKRC20Transaction(ctx context.Context, payload string, op int, to string) (string, error) {
	if err := w.requireConnected(ctx); err != nil {
		return "", err
	}
	if err := w.approve(ctx, RequestSignKRC20, payload); err != nil {
		return "", err
	}
	return w.envelope(map[string]any{"payload": payload, "op": op, "to": to})
}

func (w *LocalWallet) SignPSKT(ctx context.Context, pskt string) (string, error) {
	if err := w.requireConnected(ctx); err != nil {
		return "", err
	}
	if err := w.approve(ctx, RequestSignPSKT, pskt); err != nil {
		return "", err
	}
	return w.envelope(map[string]any{"pskt": pskt})
}

func (w *LocalWallet) OnAccountsChanged(fn func([]string)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

// envelope signs the canonical JSON of body and returns body plus the
// signature and public key as JSON.
func (w *LocalWallet) envelope(body map[string]any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sig, err := w.sign(raw)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(map[string]any{
		"body":      json.RawMessage(raw),
		"signature": sig,
		"publicKey": w.pub.String(),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (w *LocalWallet) sign(msg []byte) (string, error) {
	sig, err := w.priv.Sign(msg)
	if err != nil {
		return "", fmt.Errorf("wallet: sign: %w", err)
	}
	return sig.String(), nil
}

func (w *LocalWallet) approve(ctx context.Context, kind RequestKind, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.approver(ctx, kind, payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrUserRejected, kind)
	}
	return nil
}

func (w *LocalWallet) requireConnected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return ErrNotConnected
	}
	return nil
}

func (w *LocalWallet) notify(accounts []string) {
	w.mu.Lock()
	fns := make([]func([]string), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(append([]string(nil), accounts...))
	}
}

// VerifyMessage checks a base58 signature produced by SignMessage.
func VerifyMessage(publicKey, message, signature string) bool {
	pub, err := solana.PublicKeyFromBase58(publicKey)
	if err != nil {
		return false
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false
	}
	return sig.Verify(pub, []byte(message))
}

func parsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("wallet: invalid JSON private key: %w", err)
		}
		b := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("wallet: invalid byte at %d: %d", i, v)
			}
			b[i] = byte(v)
		}
		if len(b) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(b))
		}
		return solana.PrivateKey(ed25519.PrivateKey(b)), nil
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid base58 private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return solana.PrivateKey(ed25519.PrivateKey(raw)), nil
}
