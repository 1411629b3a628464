package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abesuite/go-socks/socks"
	"golang.org/x/net/context/ctxhttp"
)

const (
	// DefaultCurrency is used when no currency is requested.
	DefaultCurrency = "USD"

	// DefaultTickerURL is the ticker endpoint of the ECA coin.
	DefaultTickerURL = "https://api.coinmarketcap.com/v1/ticker/electra/"

	defaultTimeout = 30 * time.Second

	// maxResponseSize bounds the size of a ticker response.
	maxResponseSize = 1 << 20
)

// PriceSource reports the current price of one ECA.
type PriceSource interface {
	// CurrentPriceIn returns the price of one ECA in the ISO 4217
	// currency.  The empty string selects DefaultCurrency.
	CurrentPriceIn(ctx context.Context, currency string) (float64, error)
}

// NormalizeCurrency uppercases currency and checks that it is a three
// letter code.  The empty string is normalized to DefaultCurrency.
func NormalizeCurrency(currency string) (string, error) {
	if currency == "" {
		return DefaultCurrency, nil
	}

	code := strings.ToUpper(currency)
	if len(code) != 3 {
		return "", fmt.Errorf("invalid currency code %q", currency)
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return "", fmt.Errorf("invalid currency code %q",
				currency)
		}
	}
	return code, nil
}

// TickerConfig describes the ticker endpoint.
type TickerConfig struct {
	// URL is the ticker endpoint, DefaultTickerURL when empty.
	URL string

	// Proxy is the optional host:port of a SOCKS5 proxy to connect
	// through.
	Proxy     string
	ProxyUser string
	ProxyPass string

	// Timeout bounds a single request, defaultTimeout when zero.
	Timeout time.Duration
}

// Ticker is a PriceSource backed by a CoinMarketCap style ticker.  The
// endpoint answers with an array of one object holding the price in the
// requested currency as the string field price_<currency>.
type Ticker struct {
	url    string
	client *http.Client
}

// A compile time check to ensure Ticker implements PriceSource.
var _ PriceSource = (*Ticker)(nil)

// NewTicker returns a ticker for the config.
func NewTicker(cfg *TickerConfig) (*Ticker, error) {
	tickerURL := cfg.URL
	if tickerURL == "" {
		tickerURL = DefaultTickerURL
	}
	if _, err := url.Parse(tickerURL); err != nil {
		return nil, fmt.Errorf("invalid ticker url: %v", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{}
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		transport.Dial = proxy.Dial
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &Ticker{
		url: tickerURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}, nil
}

// CurrentPriceIn queries the ticker for the price of one ECA.
//
// This is part of the PriceSource interface.
func (t *Ticker) CurrentPriceIn(ctx context.Context, currency string) (float64, error) {
	code, err := NormalizeCurrency(currency)
	if err != nil {
		return 0, err
	}

	reqURL, err := url.Parse(t.url)
	if err != nil {
		return 0, err
	}
	query := reqURL.Query()
	query.Set("convert", code)
	reqURL.RawQuery = query.Encode()

	resp, err := ctxhttp.Get(ctx, t.client, reqURL.String())
	if err != nil {
		return 0, fmt.Errorf("ticker request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ticker request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, fmt.Errorf("unable to read ticker response: %v", err)
	}

	price, err := parseTicker(body, code)
	if err != nil {
		return 0, err
	}

	log.Debugf("Price of 1 ECA: %v %s", price, code)

	return price, nil
}

// parseTicker extracts the price in the currency from a ticker response.
func parseTicker(body []byte, code string) (float64, error) {
	var entries []map[string]interface{}
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, fmt.Errorf("malformed ticker response: %v", err)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("empty ticker response")
	}

	field := "price_" + strings.ToLower(code)
	value, ok := entries[0][field]
	if !ok || value == nil {
		return 0, fmt.Errorf("ticker has no %s price", code)
	}

	var price float64
	switch v := value.(type) {
	case string:
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed %s field %q: %v", field,
				v, err)
		}
		price = p
	case float64:
		price = v
	default:
		return 0, fmt.Errorf("malformed %s field of type %T", field, v)
	}

	if price <= 0 {
		return 0, fmt.Errorf("ticker reported a non-positive %s price",
			code)
	}
	return price, nil
}
