package oipoll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oibot/internal/model"
)

const okBody = `{
	"retCode":0,"retMsg":"OK",
	"result":{"category":"linear","symbol":"BTCUSDT",
		"list":[{"openInterest":"52867.704","timestamp":"1672304486865"}]}
}`

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/open-interest", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, Symbols: []string{"BTCUSDT"}})
	sample, err := p.Fetch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", sample.Symbol)
	assert.Equal(t, 52867.704, sample.Value)
	assert.Equal(t, time.UnixMilli(1672304486865).UTC(), sample.SampledAt)
}

func TestFetch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL})
	_, err := p.Fetch(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "params error")
}

func TestFetch_EmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL})
	_, err := p.Fetch(context.Background(), "NOPEUSDT")
	assert.Error(t, err)
}

func TestPollAll_LatestWinsOnFullChannel(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(okBody))
			return
		}
		w.Write([]byte(`{
			"retCode":0,"retMsg":"OK",
			"result":{"list":[{"openInterest":"60000.0","timestamp":"1672304546865"}]}
		}`))
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, Symbols: []string{"BTCUSDT"}})
	out := make(chan model.OpenInterest, 1)

	// Two polls with nobody consuming: the second sample displaces the
	// first instead of being dropped.
	p.pollAll(context.Background(), out)
	p.pollAll(context.Background(), out)

	require.Len(t, out, 1)
	sample := <-out
	assert.Equal(t, 60000.0, sample.Value)
}
