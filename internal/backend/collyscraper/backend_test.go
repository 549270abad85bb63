package collyscraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/offerscout/offerscout/internal/scout"
)

const listingHTML = `<!DOCTYPE html>
<html><body>
<div class="offer-card">
  <a class="offer-link" href="/p/air-max-90"><span class="offer-title">Nike Air Max 90</span></a>
  <span class="offer-brand">Nike</span>
  <span class="offer-price">$119.99</span>
  <span class="offer-price-original">$149.99</span>
  <img class="offer-image" src="/img/airmax.jpg?tracking=abc"/>
  <span class="offer-availability">In stock</span>
</div>
<div class="offer-card">
  <a class="offer-link" href="/p/suede-classic"><span class="offer-title">Puma Suede Classic</span></a>
  <span class="offer-brand">Puma</span>
  <span class="offer-price">1.299,50</span>
  <span class="offer-availability">Sold out</span>
</div>
<div class="offer-card">
  <span class="offer-title">Broken card without price</span>
</div>
</body></html>`

func TestBackend_ExtractParsesListing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	backend := New(Config{}, nil)
	offers, err := backend.Extract(context.Background(), scout.ExtractRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, offers, 2, "card without a price is dropped")

	first := offers[0]
	require.Equal(t, "Nike Air Max 90", first.Title)
	require.Equal(t, "Nike", first.Brand)
	require.InDelta(t, 119.99, first.Price, 0.001)
	require.InDelta(t, 149.99, first.OriginalPrice, 0.001)
	require.InDelta(t, 20.0, first.DiscountPct, 0.1)
	require.Equal(t, srv.URL+"/p/air-max-90", first.URL)
	require.Equal(t, srv.URL+"/img/airmax.jpg?tracking=abc", first.ImageURL)
	require.Equal(t, scout.AvailabilityInStock, first.Availability)

	second := offers[1]
	require.InDelta(t, 1299.50, second.Price, 0.001)
	require.Equal(t, scout.AvailabilityOutOfStock, second.Availability)
}

func TestBackend_ExtractSendsHeaders(t *testing.T) {
	t.Parallel()

	var gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("<html><body></body></html>"))
	}))
	defer srv.Close()

	backend := New(Config{UserAgent: "offerscout-test"}, nil)
	_, err := backend.Extract(context.Background(), scout.ExtractRequest{
		URL:     srv.URL,
		Headers: map[string]string{"Accept-Language": "de-DE"},
	})
	require.NoError(t, err)
	require.Equal(t, "de-DE", gotAccept)
}

func TestBackend_ExtractServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	backend := New(Config{}, nil)
	_, err := backend.Extract(context.Background(), scout.ExtractRequest{URL: srv.URL})
	require.ErrorIs(t, err, scout.ErrBackendFailure)
}

func TestBackend_ExtractClientRenderedShell(t *testing.T) {
	t.Parallel()

	shell := `<!DOCTYPE html><html><body><div id="root"></div><script src="/bundle.js"></script></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(shell))
	}))
	defer srv.Close()

	backend := New(Config{}, nil)
	_, err := backend.Extract(context.Background(), scout.ExtractRequest{URL: srv.URL})
	require.ErrorIs(t, err, scout.ErrBackendFailure)
	require.Contains(t, err.Error(), "client-rendered")
}

func TestRenderHeuristic(t *testing.T) {
	t.Parallel()

	h := newRenderHeuristic(0)
	require.True(t, h.needsRendering(nil))
	require.True(t, h.needsRendering([]byte(`<div data-reactroot></div>`)))
	require.True(t, h.needsRendering([]byte(`<html><script>boot()</script><script>more()</script></html>`)))
	require.False(t, h.needsRendering([]byte(`<html><body><p>plain server rendered page</p></body></html>`)))
}

func TestBackend_LoginUnsupported(t *testing.T) {
	t.Parallel()

	backend := New(Config{}, nil)
	_, err := backend.Login(context.Background(), scout.LoginRequest{Identity: "a", Secret: "b"})
	require.ErrorIs(t, err, scout.ErrBackendFailure)
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"$119.99", 119.99, true},
		{"1,299.50", 1299.50, true},
		{"1.299,50", 1299.50, true},
		{"EUR 42", 42, true},
		{"free", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parsePrice(tc.raw)
		require.Equal(t, tc.ok, ok, tc.raw)
		if tc.ok {
			require.InDelta(t, tc.want, got, 0.001, tc.raw)
		}
	}
}
