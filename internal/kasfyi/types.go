package kasfyi

import (
	"encoding/json"
	"strconv"
)

// TokenInfoResponse is the body of GET /token/krc20/{ticker}/info.
// The price block has been observed both flat and nested under a markets
// array, so every part of it is optional.
type TokenInfoResponse struct {
	Ticker      string       `json:"ticker"`
	Decimal     flexInt      `json:"decimal"`
	IconURL     string       `json:"iconUrl,omitempty"`
	Price       *PriceData   `json:"price,omitempty"`
	MarketsData []MarketData `json:"marketsData,omitempty"`
	Markets     []MarketData `json:"markets,omitempty"`
}

type PriceData struct {
	FloorPrice     flexFloat `json:"floorPrice"`
	PriceInUSD     flexFloat `json:"priceInUsd"`
	MarketCapInUSD flexFloat `json:"marketCapInUsd"`
	Change24h      flexFloat `json:"change24h"`
}

// MarketData is one market source. Some payloads nest the figures under
// marketData, others put them on the entry itself.
type MarketData struct {
	Name       string      `json:"name"`
	PriceInUSD flexFloat   `json:"priceInUsd"`
	VolumeUSD  flexFloat   `json:"volumeInUsd"`
	MarketData *MarketData `json:"marketData,omitempty"`
}

// USD returns the market's USD price whichever way it was nested.
func (m MarketData) USD() float64 {
	if m.PriceInUSD > 0 {
		return float64(m.PriceInUSD)
	}
	if m.MarketData != nil {
		return float64(m.MarketData.PriceInUSD)
	}
	return 0
}

// AllMarkets joins both observed market array spellings.
func (r *TokenInfoResponse) AllMarkets() []MarketData {
	out := make([]MarketData, 0, len(r.MarketsData)+len(r.Markets))
	out = append(out, r.MarketsData...)
	out = append(out, r.Markets...)
	return out
}

// TokenListResponse is the body of GET /token/krc20/tokens.
type TokenListResponse struct {
	Results    []TokenListItem `json:"results"`
	TotalCount *int            `json:"totalCount,omitempty"`
	Total      *int            `json:"total,omitempty"`
}

// Count returns the catalog total if the upstream sent one.
func (r *TokenListResponse) Count() (int, bool) {
	if r.TotalCount != nil {
		return *r.TotalCount, true
	}
	if r.Total != nil {
		return *r.Total, true
	}
	return 0, false
}

type TokenListItem struct {
	Ticker  string  `json:"ticker"`
	Name    string  `json:"name,omitempty"`
	Decimal flexInt `json:"decimal"`
	IconURL string  `json:"iconUrl,omitempty"`
}

// flexFloat accepts numbers, numeric strings and null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			// unparsable figures read as "no price"
			*f = 0
			return nil
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts integers, numeric strings and null.
type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	*i = flexInt(int(f))
	return nil
}

// Int exposes the decoded value.
func (i flexInt) Int() int { return int(i) }
