package wallet

import (
	"context"
	"encoding/json"
	"fmt"
)

// TransferSigner signs the maker's KRC20 transfer leg through the wallet's
// PSKT signing call.
type TransferSigner struct {
	Provider Provider
}

type transferPayload struct {
	Tick string `json:"tick"`
	Amt  string `json:"amt"`
	Op   string `json:"op"`
}

func (t TransferSigner) SignTransfer(ctx context.Context, tick, amount string) (string, error) {
	if t.Provider == nil {
		return "", ErrNotInstalled
	}
	payload, err := json.Marshal(transferPayload{Tick: tick, Amt: amount, Op: "transfer"})
	if err != nil {
		return "", err
	}
	signed, err := t.Provider.SignPSKT(ctx, string(payload))
	if err != nil {
		return "", fmt.Errorf("sign transfer %s: %w", tick, err)
	}
	return signed, nil
}
