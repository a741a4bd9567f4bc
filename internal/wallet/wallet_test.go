package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestWallet(t *testing.T, approver Approver) *LocalWallet {
	t.Helper()
	w, err := NewRandomLocalWallet(LocalConfig{
		Address:  "kaspa:qtest",
		Approver: approver,
		Balance:  Balance{Confirmed: 150_000_000, Total: 250_000_000},
		Tokens: []KRC20Balance{
			{Tick: "NACHO", Balance: "123450000000", Dec: "8"},
			{Tick: "KASPY", Balance: "5000", Dec: "3"},
			{Tick: "BAD", Balance: "1", Dec: "x"},
		},
	})
	require.NoError(t, err)
	return w
}

func TestParsePrivateKey_Formats(t *testing.T) {
	priv, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	fromB58, err := parsePrivateKey(priv.String())
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey(), fromB58.PublicKey())

	ints := make([]int, len(priv))
	for i, b := range priv {
		ints[i] = int(b)
	}
	arr, _ := json.Marshal(ints)
	fromJSON, err := parsePrivateKey(string(arr))
	require.NoError(t, err)
	assert.Equal(t, priv.PublicKey(), fromJSON.PublicKey())

	_, err = parsePrivateKey("[1,2,3]")
	assert.Error(t, err)
	_, err = parsePrivateKey("[300]")
	assert.Error(t, err)
	_, err = parsePrivateKey("0OIl")
	assert.Error(t, err)

	_, err = NewLocalWallet(LocalConfig{})
	assert.Error(t, err)
}

func TestLocalWallet_RequiresConnection(t *testing.T) {
	w := newTestWallet(t, nil)
	ctx := context.Background()

	accounts, err := w.GetAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	_, err = w.SignMessage(ctx, "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	accounts, err = w.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kaspa:qtest"}, accounts)

	sig, err := w.SignMessage(ctx, "hi")
	require.NoError(t, err)
	pub, err := w.GetPublicKey(ctx)
	require.NoError(t, err)
	assert.True(t, VerifyMessage(pub, "hi", sig))
	assert.False(t, VerifyMessage(pub, "bye", sig))
}

func TestLocalWallet_UserRejection(t *testing.T) {
	decline := func(_ context.Context, kind RequestKind, _ string) error {
		if kind == RequestSignPSKT {
			return errors.New("no")
		}
		return nil
	}
	w := newTestWallet(t, decline)
	ctx := context.Background()

	_, err := w.RequestAccounts(ctx)
	require.NoError(t, err)

	_, err = w.SignPSKT(ctx, "{}")
	assert.ErrorIs(t, err, ErrUserRejected)

	_, err = w.SignKRC20Transaction(ctx, `{"p":"krc-20"}`, 4, "kaspa:qdest")
	assert.NoError(t, err)
}

func TestLocalWallet_CancelledWhileAwaitingApproval(t *testing.T) {
	wait := func(ctx context.Context, _ RequestKind, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	w := newTestWallet(t, wait)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.RequestAccounts(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalWallet_AccountsChangedListeners(t *testing.T) {
	w := newTestWallet(t, nil)
	ctx := context.Background()

	var seen [][]string
	unsub := w.OnAccountsChanged(func(a []string) { seen = append(seen, a) })

	_, err := w.RequestAccounts(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Disconnect(ctx, "http://localhost"))
	unsub()
	_, err = w.RequestAccounts(ctx)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, []string{"kaspa:qtest"}, seen[0])
	assert.Empty(t, seen[1])
}

func TestSession_ConnectLoadsBalances(t *testing.T) {
	w := newTestWallet(t, nil)
	s := NewSession(w, SessionConfig{Origin: "http://localhost", Logger: quietLogger()})
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))

	account, ok := s.Account()
	require.True(t, ok)
	assert.Equal(t, "kaspa:qtest", account)

	tokens := s.Tokens()
	require.Len(t, tokens, 3)
	assert.Equal(t, "KAS", tokens[0].Symbol)
	assert.Equal(t, "2.5", tokens[0].Balance)
	assert.Equal(t, "NACHO", tokens[1].Symbol)
	assert.Equal(t, "1234.5", tokens[1].Balance)
	assert.Equal(t, 3, tokens[2].Decimals)
	assert.Equal(t, "5", tokens[2].Balance)

	require.NoError(t, s.Disconnect(ctx))
	_, ok = s.Account()
	assert.False(t, ok)
	assert.Empty(t, s.Tokens())
}

func TestSession_NotInstalledAndRejected(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, NewSession(nil, SessionConfig{}).Connect(ctx), ErrNotInstalled)

	w := newTestWallet(t, func(context.Context, RequestKind, string) error { return errors.New("declined") })
	s := NewSession(w, SessionConfig{Logger: quietLogger()})
	assert.ErrorIs(t, s.Connect(ctx), ErrUserRejected)
	_, ok := s.Account()
	assert.False(t, ok)
}

func TestSession_SignSwapIntent(t *testing.T) {
	w := newTestWallet(t, nil)
	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	s := NewSession(w, SessionConfig{Logger: quietLogger(), Now: func() time.Time { return at }})
	ctx := context.Background()

	intent := SwapIntent{FromToken: "NACHO", ToToken: "KAS", Amount: "100", ExpectedAmount: "2.5"}

	_, err := s.SignSwapIntent(ctx, intent)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, s.Connect(ctx))
	req, err := s.SignSwapIntent(ctx, intent)
	require.NoError(t, err)

	assert.Equal(t, "kaspa:qtest", req.Maker)
	assert.Equal(t, "100", req.FromAmount)
	assert.Equal(t, "2.5", req.ToAmount)

	msg := SwapIntentMessage(intent, at)
	assert.Equal(t, fmt.Sprintf(`{"action":"swap","fromToken":"NACHO","toToken":"KAS","fromAmount":"100","toAmount":"2.5","timestamp":%d}`, at.UnixMilli()), msg)
	assert.True(t, VerifyMessage(req.PublicKey, msg, req.Signature))
}

func TestSession_FollowsAccountChanges(t *testing.T) {
	w := newTestWallet(t, nil)
	s := NewSession(w, SessionConfig{Logger: quietLogger()})
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))
	require.Len(t, s.Tokens(), 3)
	require.NoError(t, w.Disconnect(ctx, ""))

	_, ok := s.Account()
	assert.False(t, ok)
	assert.Empty(t, s.Tokens())
}

// gatedWallet holds KRC20 balance reads until the gate opens.
type gatedWallet struct {
	*LocalWallet
	mu      sync.Mutex
	gate    chan struct{}
	waiting int
}

func (g *gatedWallet) waiters() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}

func (g *gatedWallet) hold(gate chan struct{}) {
	g.mu.Lock()
	g.gate = gate
	g.mu.Unlock()
}

func (g *gatedWallet) GetKRC20Balance(ctx context.Context) ([]KRC20Balance, error) {
	g.mu.Lock()
	gate := g.gate
	if gate != nil {
		g.waiting++
	}
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.LocalWallet.GetKRC20Balance(ctx)
}

func TestSession_AccountSwitchReloadsBalances(t *testing.T) {
	w := &gatedWallet{LocalWallet: newTestWallet(t, nil)}
	s := NewSession(w, SessionConfig{Logger: quietLogger()})
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))
	require.Len(t, s.Tokens(), 3)

	gate := make(chan struct{})
	w.hold(gate)
	s.handleAccountsChanged([]string{"kaspa:qother"})

	account, ok := s.Account()
	require.True(t, ok)
	assert.Equal(t, "kaspa:qother", account)
	assert.Empty(t, s.Tokens(), "balances of the previous account are dropped")

	close(gate)
	assert.Eventually(t, func() bool { return len(s.Tokens()) == 3 }, 2*time.Second, 10*time.Millisecond)

	// same account again keeps balances
	s.handleAccountsChanged([]string{"kaspa:qother"})
	assert.Len(t, s.Tokens(), 3)
}

func TestSession_RefreshDroppedAfterAccountChange(t *testing.T) {
	w := &gatedWallet{LocalWallet: newTestWallet(t, nil)}
	s := NewSession(w, SessionConfig{Logger: quietLogger()})
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	gate := make(chan struct{})
	w.hold(gate)
	done := make(chan error, 1)
	go func() { done <- s.RefreshBalances(ctx) }()
	require.Eventually(t, func() bool { return w.waiters() == 1 }, 2*time.Second, 5*time.Millisecond)

	// wallet clears its accounts while the refresh waits on balances
	s.handleAccountsChanged(nil)
	close(gate)

	require.NoError(t, <-done)
	assert.Empty(t, s.Tokens())
}

func TestTransferSigner(t *testing.T) {
	w := newTestWallet(t, nil)
	ctx := context.Background()

	_, err := TransferSigner{Provider: w}.SignTransfer(ctx, "NACHO", "10")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = w.RequestAccounts(ctx)
	require.NoError(t, err)

	signed, err := TransferSigner{Provider: w}.SignTransfer(ctx, "NACHO", "10")
	require.NoError(t, err)

	var env struct {
		Body struct {
			PSKT string `json:"pskt"`
		} `json:"body"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal([]byte(signed), &env))
	assert.JSONEq(t, `{"tick":"NACHO","amt":"10","op":"transfer"}`, env.Body.PSKT)
	assert.NotEmpty(t, env.Signature)

	_, err = TransferSigner{}.SignTransfer(ctx, "NACHO", "10")
	assert.ErrorIs(t, err, ErrNotInstalled)
}
