// Package oipoll samples open interest from the Bybit v5 REST API at a
// fixed interval.
package oipoll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"oibot/internal/model"
)

// DefaultBaseURL is the Bybit v5 REST endpoint.
const DefaultBaseURL = "https://api.bybit.com"

// Config holds polling settings.
type Config struct {
	BaseURL  string
	Category string // market category, default "linear"
	Symbols  []string
	Interval time.Duration // default 30s
}

// Poller fetches the latest open-interest value per symbol every
// Interval. Per interval at most one sample per symbol survives: when the
// consumer lags, the stale sample is discarded in favor of the new one.
type Poller struct {
	cfg    Config
	client *http.Client
}

// New creates a Poller.
func New(cfg Config) *Poller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Category == "" {
		cfg.Category = "linear"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Poller{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run polls until ctx is cancelled. out should be buffered; when it is
// full the oldest queued sample is dropped so the latest always lands.
func (p *Poller) Run(ctx context.Context, out chan model.OpenInterest) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollAll(ctx, out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx, out)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context, out chan model.OpenInterest) {
	for _, sym := range p.cfg.Symbols {
		sample, err := p.Fetch(ctx, sym)
		if err != nil {
			log.Printf("[oipoll] %s: %v", sym, err)
			continue
		}
		for {
			select {
			case out <- sample:
			default:
				// Latest wins: displace the oldest queued sample.
				select {
				case <-out:
				default:
				}
				continue
			}
			break
		}
	}
}

// Fetch retrieves the most recent open-interest sample for one symbol.
func (p *Poller) Fetch(ctx context.Context, symbol string) (model.OpenInterest, error) {
	q := url.Values{}
	q.Set("category", p.cfg.Category)
	q.Set("symbol", symbol)
	q.Set("intervalTime", "5min")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.cfg.BaseURL+"/v5/market/open-interest?"+q.Encode(), nil)
	if err != nil {
		return model.OpenInterest{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return model.OpenInterest{}, fmt.Errorf("fetch open interest: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.OpenInterest{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return model.OpenInterest{}, fmt.Errorf("fetch open interest: status %d", resp.StatusCode)
	}
	return parseResponse(symbol, body)
}

type oiResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			OpenInterest string `json:"openInterest"`
			Timestamp    string `json:"timestamp"` // ms
		} `json:"list"`
	} `json:"result"`
}

func parseResponse(symbol string, body []byte) (model.OpenInterest, error) {
	var r oiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return model.OpenInterest{}, fmt.Errorf("decode open interest: %w", err)
	}
	if r.RetCode != 0 {
		return model.OpenInterest{}, fmt.Errorf("open interest api: %s (%d)", r.RetMsg, r.RetCode)
	}
	if len(r.Result.List) == 0 {
		return model.OpenInterest{}, fmt.Errorf("open interest: empty result for %s", symbol)
	}
	entry := r.Result.List[0]
	value, err := strconv.ParseFloat(entry.OpenInterest, 64)
	if err != nil {
		return model.OpenInterest{}, fmt.Errorf("open interest value %q: %w", entry.OpenInterest, err)
	}
	ms, err := strconv.ParseInt(entry.Timestamp, 10, 64)
	if err != nil {
		return model.OpenInterest{}, fmt.Errorf("open interest timestamp %q: %w", entry.Timestamp, err)
	}
	return model.OpenInterest{
		Symbol:    symbol,
		Value:     value,
		SampledAt: time.UnixMilli(ms).UTC(),
	}, nil
}
