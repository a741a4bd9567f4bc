package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const balanceRefreshTimeout = 15 * time.Second

// SwapIntent is what the holder agrees to before an order is created.
type SwapIntent struct {
	FromToken      string `json:"fromToken"`
	ToToken        string `json:"toToken"`
	Amount         string `json:"amount"`
	ExpectedAmount string `json:"expectedAmount"`
}

// intentMessage is the signed swap-intent text. Field order is part of the
// signed bytes.
type intentMessage struct {
	Action     string `json:"action"`
	FromToken  string `json:"fromToken"`
	ToToken    string `json:"toToken"`
	FromAmount string `json:"fromAmount"`
	ToAmount   string `json:"toAmount"`
	Timestamp  int64  `json:"timestamp"`
}

// Session tracks the connected account and its balances for one holder.
type Session struct {
	provider Provider
	origin   string
	logger   *logrus.Logger
	now      func() time.Time

	mu          sync.RWMutex
	account     string
	connected   bool
	tokens      []models.WalletToken
	unsubscribe func()
}

type SessionConfig struct {
	Origin string
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewSession(p Provider, cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{provider: p, origin: cfg.Origin, logger: cfg.Logger, now: cfg.Now}
}

// Connect asks the wallet for accounts and loads balances. A missing
// provider or a declined request is returned to the caller.
func (s *Session) Connect(ctx context.Context) error {
	if s.provider == nil {
		return ErrNotInstalled
	}

	accounts, err := s.provider.RequestAccounts(ctx)
	if err != nil {
		return fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return ErrNotConnected
	}

	s.mu.Lock()
	s.account = accounts[0]
	s.connected = true
	if s.unsubscribe == nil {
		s.unsubscribe = s.provider.OnAccountsChanged(s.handleAccountsChanged)
	}
	s.mu.Unlock()

	s.logger.WithField("account", accounts[0]).Info("wallet connected")

	if err := s.RefreshBalances(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to fetch token balances")
	}
	return nil
}

// Disconnect releases the account locally even if the wallet call fails.
func (s *Session) Disconnect(ctx context.Context) error {
	if s.provider == nil {
		return ErrNotInstalled
	}
	err := s.provider.Disconnect(ctx, s.origin)

	s.mu.Lock()
	s.account = ""
	s.connected = false
	s.tokens = nil
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (s *Session) Account() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account, s.connected
}

func (s *Session) Tokens() []models.WalletToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.WalletToken(nil), s.tokens...)
}

// RefreshBalances reloads the native balance and KRC20 balances in human units.
// The result is dropped if the account changes while it loads.
func (s *Session) RefreshBalances(ctx context.Context) error {
	account, ok := s.Account()
	if !ok {
		return ErrNotConnected
	}

	krc20, err := s.provider.GetKRC20Balance(ctx)
	if err != nil {
		return fmt.Errorf("krc20 balances: %w", err)
	}
	native, err := s.provider.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("native balance: %w", err)
	}

	tokens := make([]models.WalletToken, 0, len(krc20)+1)
	tokens = append(tokens, models.WalletToken{
		Symbol:   constants.NativeTicker,
		Name:     constants.NativeTicker,
		Decimals: constants.NativeDecimals,
		Balance:  decimal.NewFromInt(int64(native.Total)).Shift(-constants.NativeDecimals).String(),
	})

	for _, b := range krc20 {
		dec, err := strconv.Atoi(strings.TrimSpace(b.Dec))
		if err != nil || dec < 0 {
			s.logger.WithField("tick", b.Tick).Warn("skipping token with bad decimals")
			continue
		}
		raw, err := decimal.NewFromString(strings.TrimSpace(b.Balance))
		if err != nil {
			s.logger.WithField("tick", b.Tick).Warn("skipping token with bad balance")
			continue
		}
		tokens = append(tokens, models.WalletToken{
			Symbol:   b.Tick,
			Name:     b.Tick,
			Decimals: dec,
			Balance:  raw.Shift(int32(-dec)).String(),
		})
	}

	s.mu.Lock()
	if s.connected && s.account == account {
		s.tokens = tokens
	}
	s.mu.Unlock()
	return nil
}

// SignSwapIntent signs the swap-intent message and returns the order request
// to submit to the book.
func (s *Session) SignSwapIntent(ctx context.Context, intent SwapIntent) (*models.OrderRequest, error) {
	account, ok := s.Account()
	if !ok {
		return nil, ErrNotConnected
	}

	pub, err := s.provider.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}

	sig, err := s.provider.SignMessage(ctx, SwapIntentMessage(intent, s.now()))
	if err != nil {
		return nil, fmt.Errorf("sign swap intent: %w", err)
	}

	return &models.OrderRequest{
		Maker:      account,
		FromToken:  intent.FromToken,
		ToToken:    intent.ToToken,
		FromAmount: intent.Amount,
		ToAmount:   intent.ExpectedAmount,
		Signature:  sig,
		PublicKey:  pub,
	}, nil
}

// handleAccountsChanged follows the wallet's active account. Balances
// belong to one account, so they are dropped on any change and reloaded
// for the new one.
func (s *Session) handleAccountsChanged(accounts []string) {
	s.mu.Lock()
	if len(accounts) == 0 {
		s.account = ""
		s.connected = false
		s.tokens = nil
		s.mu.Unlock()
		s.logger.Info("wallet disconnected")
		return
	}
	switched := !s.connected || s.account != accounts[0]
	s.account = accounts[0]
	s.connected = true
	if switched {
		s.tokens = nil
	}
	s.mu.Unlock()

	if !switched {
		return
	}
	s.logger.WithField("account", accounts[0]).Info("wallet account changed")

	// providers may notify while holding their own locks
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), balanceRefreshTimeout)
		defer cancel()
		if err := s.RefreshBalances(ctx); err != nil {
			s.logger.WithError(err).Warn("failed to reload balances after account change")
		}
	}()
}

// SwapIntentMessage rebuilds the exact text SignSwapIntent signs.
func SwapIntentMessage(intent SwapIntent, at time.Time) string {
	b, _ := json.Marshal(intentMessage{
		Action:     "swap",
		FromToken:  intent.FromToken,
		ToToken:    intent.ToToken,
		FromAmount: intent.Amount,
		ToAmount:   intent.ExpectedAmount,
		Timestamp:  at.UnixMilli(),
	})
	return string(b)
}
