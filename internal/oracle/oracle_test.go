package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GigaChadds/gaave-core/internal/model"
)

const (
	testAsset = "0x9A753f0F7886C9fbF63cF59D0D4423C5eFaCE95B"
	testFeed  = "0x0FCAa9c899EC5A91eBc3D5Dd869De833b06fB046"
)

func newRelay(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *FeedClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewFeedClient(srv.URL, map[string]string{testAsset: testFeed})
	return srv, client
}

func TestQuote_Latest(t *testing.T) {
	updatedAt := time.Now().Unix()
	_, client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/feeds/"+testFeed+"/latest" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(feedResponse{Answer: "0.9987", UpdatedAt: updatedAt})
	})

	quote, err := client.Quote(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !quote.Rate.Equal(decimal.NewFromFloat(0.9987)) {
		t.Errorf("expected rate 0.9987, got %s", quote.Rate)
	}
	if quote.Timestamp.Unix() != updatedAt {
		t.Errorf("expected timestamp %d, got %d", updatedAt, quote.Timestamp.Unix())
	}
}

func TestQuote_UnsupportedAsset(t *testing.T) {
	_, client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("relay must not be contacted for unknown assets")
	})

	_, err := client.Quote(context.Background(), "0x0000000000000000000000000000000000000bad")
	if !errors.Is(err, ErrUnsupportedAsset) {
		t.Errorf("expected ErrUnsupportedAsset, got %v", err)
	}
}

func TestQuote_FeedError(t *testing.T) {
	_, client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Quote(context.Background(), testAsset)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestQuote_TransportError(t *testing.T) {
	srv, client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.Quote(context.Background(), testAsset)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestQuote_RejectsNonPositiveAnswer(t *testing.T) {
	_, client := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(feedResponse{Answer: "0", UpdatedAt: time.Now().Unix()})
	})

	_, err := client.Quote(context.Background(), testAsset)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for zero answer, got %v", err)
	}
}

func TestFresh(t *testing.T) {
	now := time.Now()
	maxAge := 15 * time.Minute

	fresh := model.PriceQuote{Timestamp: now.Add(-5 * time.Minute)}
	if err := Fresh(fresh, maxAge, now); err != nil {
		t.Errorf("expected fresh quote to pass, got %v", err)
	}

	stale := model.PriceQuote{Timestamp: now.Add(-16 * time.Minute)}
	if err := Fresh(stale, maxAge, now); !errors.Is(err, ErrStaleQuote) {
		t.Errorf("expected ErrStaleQuote, got %v", err)
	}
}
