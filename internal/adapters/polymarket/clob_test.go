package polymarket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mintmaker/internal/adapters/polymarket"
	"github.com/alejandrodnm/mintmaker/internal/domain"
)

func newTestClient(clobSrv, gammaSrv *httptest.Server) *polymarket.Client {
	clobURL := ""
	gammaURL := ""
	if clobSrv != nil {
		clobURL = clobSrv.URL
	}
	if gammaSrv != nil {
		gammaURL = gammaSrv.URL
	}
	return polymarket.NewClient(clobURL, gammaURL)
}

const booksBatch = `[
 {"asset_id":"token_yes_001",
  "bids":[{"price":"0.69","size":"50"},{"price":"0.70","size":"100"}],
  "asks":[{"price":"0.73","size":"80"},{"price":"0.72","size":"40"}]},
 {"asset_id":"token_no_001",
  "bids":[{"price":"0.27","size":"60"},{"price":"0","size":"10"}],
  "asks":[{"price":"0.29","size":"70"}]}
]`

func TestFetchOrderBooks_Batch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/books", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(booksBatch))
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)
	books, err := client.FetchOrderBooks(context.Background(), []string{"token_yes_001", "token_no_001"})

	require.NoError(t, err)
	require.Len(t, books, 2)

	yesBook, ok := books["token_yes_001"]
	require.True(t, ok)
	assert.Equal(t, "0.7", yesBook.BestBid().String())
	assert.Equal(t, "0.72", yesBook.BestAsk().String())
	assert.Equal(t, "0.71", yesBook.Midpoint().String())

	noBook := books["token_no_001"]
	require.Len(t, noBook.Bids, 1, "zero-price levels are dropped")
	assert.Equal(t, "0.27", noBook.BestBid().String())
}

func TestFetchOrderBooks_BatchSplitting(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]any{})
	}))
	defer srv.Close()

	client := newTestClient(srv, nil)

	// 25 ids → one batch of 20 and one of 5
	tokenIDs := make([]string, 25)
	for i := range tokenIDs {
		tokenIDs[i] = "token_" + string(rune('a'+i))
	}

	_, err := client.FetchOrderBooks(context.Background(), tokenIDs)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchOrderBooks_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, nil).FetchOrderBooks(context.Background(), []string{"t"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchOrderBooks_ServerErrorIsTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(booksBatch))
	}))
	defer srv.Close()

	books, err := newTestClient(srv, nil).FetchOrderBooks(context.Background(), []string{"token_yes_001"})
	require.NoError(t, err)
	assert.Contains(t, books, "token_yes_001")
	assert.Equal(t, int32(2), calls.Load())
}

func TestStatusError_Classes(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{429, domain.ErrTransient},
		{503, domain.ErrTransient},
		{404, domain.ErrNotFound},
		{400, domain.ErrPrecondition},
	}
	for _, tt := range tests {
		err := &polymarket.StatusError{Code: tt.code}
		assert.ErrorIs(t, err, tt.want, "status %d", tt.code)
	}
}
