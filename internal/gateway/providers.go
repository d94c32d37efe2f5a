package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/findash/marketdata/internal/marketdata"
)

// FetchOutcome is the uniform return of a provider fetch: exactly one of
// Data or Err is set.
type FetchOutcome struct {
	Data *marketdata.Quote
	Err  *Error
}

// QuoteClient composes the gateway with the per-provider response schemas.
// Provider payloads are parsed by explicit validating decoders; an unknown
// or malformed shape is a VALIDATION error, never a silent zero.
type QuoteClient struct {
	gw *Gateway
}

func NewQuoteClient(gw *Gateway) *QuoteClient {
	return &QuoteClient{gw: gw}
}

// FetchQuote retrieves the latest snapshot for one symbol and normalizes it.
// The data kind selects the cache lifetime upstream, not the endpoint; every
// price-bearing kind resolves from the same latest-quote snapshot.
func (qc *QuoteClient) FetchQuote(ctx context.Context, symbol string, kind marketdata.DataKind) FetchOutcome {
	symbol = marketdata.NormalizeSymbol(symbol)

	body, err := qc.gw.Call(ctx, Request{
		Endpoint: endpoint(symbol, "GLOBAL_QUOTE"),
		Method:   "GET",
	})
	if err != nil {
		return FetchOutcome{Err: err}
	}

	quote, perr := ParseGlobalQuote(body, symbol)
	if perr != nil {
		return FetchOutcome{Err: perr}
	}
	return FetchOutcome{Data: quote}
}

// FetchFundamentals retrieves the company overview for one symbol.
func (qc *QuoteClient) FetchFundamentals(ctx context.Context, symbol string) (*Fundamentals, *Error) {
	symbol = marketdata.NormalizeSymbol(symbol)

	body, err := qc.gw.Call(ctx, Request{
		Endpoint: endpoint(symbol, "OVERVIEW"),
		Method:   "GET",
	})
	if err != nil {
		return nil, err
	}
	return ParseFundamentals(body)
}

func endpoint(symbol, function string) string {
	q := url.Values{"symbol": {symbol}, "function": {function}}
	return "query?" + q.Encode()
}

// avGlobalQuote is the provider's quote envelope. The numbered field names
// are the provider's wire format, not ours.
type avGlobalQuote struct {
	GlobalQuote  map[string]string `json:"Global Quote"`
	ErrorMessage string            `json:"Error Message"`
	Information  string            `json:"Information"`
	Note         string            `json:"Note"`
}

// ParseGlobalQuote decodes a GLOBAL_QUOTE response into a normalized Quote.
// The result carries no source tier; callers tag provenance.
func ParseGlobalQuote(body json.RawMessage, symbol string) (*marketdata.Quote, *Error) {
	var resp avGlobalQuote
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewValidationError(fmt.Sprintf("parse quote response: %v", err))
	}

	if resp.ErrorMessage != "" {
		return nil, NewValidationError(resp.ErrorMessage)
	}
	// "Information"/"Note" replace the payload when the provider throttles.
	if resp.Information != "" {
		return nil, &Error{Kind: ErrServer, Message: resp.Information}
	}
	if resp.Note != "" {
		return nil, &Error{Kind: ErrServer, Message: resp.Note}
	}
	if len(resp.GlobalQuote) == 0 {
		return nil, NewValidationError("no quote data for " + symbol)
	}

	price, err := parseFloatField(resp.GlobalQuote, "05. price")
	if err != nil {
		return nil, NewValidationError(err.Error())
	}
	change, err := parseFloatField(resp.GlobalQuote, "09. change")
	if err != nil {
		return nil, NewValidationError(err.Error())
	}
	changePct, err := parsePercentField(resp.GlobalQuote, "10. change percent")
	if err != nil {
		return nil, NewValidationError(err.Error())
	}
	volume, err := parseIntField(resp.GlobalQuote, "06. volume")
	if err != nil {
		return nil, NewValidationError(err.Error())
	}

	quote := &marketdata.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: changePct,
		Volume:        volume,
		Timestamp:     time.Now(),
	}
	if err := marketdata.ValidateQuote(quote); err != nil {
		return nil, NewValidationError(fmt.Sprintf("quote failed validation: %v", err))
	}
	return quote, nil
}

// Fundamentals is the subset of the provider's company overview the
// dashboard renders.
type Fundamentals struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Sector        string  `json:"sector"`
	MarketCap     float64 `json:"market_cap"`
	PERatio       float64 `json:"pe_ratio"`
	EPS           float64 `json:"eps"`
	DividendYield float64 `json:"dividend_yield"`
}

// ParseFundamentals decodes a company-overview response. Missing numeric
// fields come back as the provider's "None" string and parse to zero; a
// missing Symbol means the payload is not an overview at all.
func ParseFundamentals(body json.RawMessage) (*Fundamentals, *Error) {
	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewValidationError(fmt.Sprintf("parse fundamentals response: %v", err))
	}
	if raw["Symbol"] == "" {
		return nil, NewValidationError("no fundamentals data in response")
	}
	return &Fundamentals{
		Symbol:        marketdata.NormalizeSymbol(raw["Symbol"]),
		Name:          raw["Name"],
		Sector:        raw["Sector"],
		MarketCap:     lenientFloat(raw["MarketCapitalization"]),
		PERatio:       lenientFloat(raw["PERatio"]),
		EPS:           lenientFloat(raw["EPS"]),
		DividendYield: lenientFloat(raw["DividendYield"]),
	}, nil
}

func parseFloatField(m map[string]string, key string) (float64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %v", key, err)
	}
	return v, nil
}

// parsePercentField handles the provider's trailing-% convention ("0.6123%").
func parsePercentField(m map[string]string, key string) (float64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(raw, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %v", key, err)
	}
	return v, nil
}

func parseIntField(m map[string]string, key string) (int64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %v", key, err)
	}
	return v, nil
}

func lenientFloat(raw string) float64 {
	v, _ := strconv.ParseFloat(raw, 64)
	return v
}
