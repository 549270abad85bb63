package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/dedup"
	"github.com/offerscout/offerscout/internal/scout"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeIDs struct{ next int }

func (g *fakeIDs) NewID() (string, error) {
	g.next++
	return "id-" + string(rune('a'+g.next-1)), nil
}

type fakeSessions struct {
	mu      sync.Mutex
	records map[string]scout.SessionRecord
	puts    int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{records: make(map[string]scout.SessionRecord)}
}

func (s *fakeSessions) Get(_ context.Context, owner string) (scout.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[owner]
	if !ok {
		return scout.SessionRecord{}, errors.New("not found")
	}
	return record, nil
}

func (s *fakeSessions) Put(_ context.Context, record scout.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.records[record.Owner] = record
	return nil
}

func (s *fakeSessions) Delete(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, owner)
	return nil
}

type fakeBackend struct {
	name string

	mu           sync.Mutex
	loginResult  scout.LoginResult
	loginErr     error
	loginCalls   int
	extractErr   error
	offers       []scout.Offer
	extractCalls int
	// succeedAfter makes Extract fail until that many calls have happened.
	succeedAfter int
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Login(context.Context, scout.LoginRequest) (scout.LoginResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginCalls++
	return b.loginResult, b.loginErr
}

func (b *fakeBackend) Extract(context.Context, scout.ExtractRequest) ([]scout.Offer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extractCalls++
	if b.succeedAfter > 0 && b.extractCalls < b.succeedAfter {
		return nil, errors.New("transient failure")
	}
	if b.extractErr != nil {
		return nil, b.extractErr
	}
	return b.offers, nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extractCalls
}

type fakeArtifacts struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (a *fakeArtifacts) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.paths = append(a.paths, path)
	return "memory://" + path, nil
}

func someOffers(n int) []scout.Offer {
	out := make([]scout.Offer, 0, n)
	titles := []string{
		"Nike Air Max 90", "Adidas Ultraboost 22", "Puma Suede Classic",
		"New Balance 574", "Asics Gel Kayano",
	}
	for i := 0; i < n; i++ {
		out = append(out, scout.Offer{
			ID:    titles[i],
			Title: titles[i],
			Brand: "brand",
			Price: float64(50 + i),
		})
	}
	return out
}

func newOrchestrator(sessions scout.SessionStore, primary, fallback scout.Backend, backends []scout.Backend, artifacts scout.ArtifactStore) *Orchestrator {
	return New(
		sessions,
		primary,
		fallback,
		backends,
		dedup.New(0),
		artifacts,
		nil,
		&fakeClock{now: time.Unix(5000, 0)},
		&fakeIDs{},
		nil,
		Config{BaseDelay: time.Millisecond, ArtifactPrefix: "scrapes"},
		zap.NewNop(),
	)
}

func TestEnsureSession_ReusesUsableRecord(t *testing.T) {
	t.Parallel()

	sessions := newFakeSessions()
	backend := &fakeBackend{name: "primary"}
	stored := scout.SessionRecord{
		SessionID: "sess-1",
		Owner:     "alice",
		Status:    scout.SessionStatusActive,
		ExpiresAt: time.Unix(5000, 0).Add(time.Hour),
	}
	require.NoError(t, sessions.Put(context.Background(), stored))

	o := newOrchestrator(sessions, backend, nil, nil, nil)
	record, err := o.EnsureSession(context.Background(), "alice", nil, false)

	require.NoError(t, err)
	require.Equal(t, "sess-1", record.SessionID)
	require.Zero(t, backend.loginCalls, "usable session must not trigger a backend call")
	require.Equal(t, 1, sessions.puts, "no writes beyond the test seed")
}

func TestEnsureSession_ExpiredRecordForcesLogin(t *testing.T) {
	t.Parallel()

	sessions := newFakeSessions()
	backend := &fakeBackend{
		name: "primary",
		loginResult: scout.LoginResult{
			Success:   true,
			SessionID: "fresh",
			Cookies:   []scout.Cookie{{Name: "sid", Value: "abc"}},
		},
	}
	expired := scout.SessionRecord{
		SessionID: "stale",
		Owner:     "alice",
		Status:    scout.SessionStatusActive,
		ExpiresAt: time.Unix(10, 0), // long past
	}
	require.NoError(t, sessions.Put(context.Background(), expired))

	o := newOrchestrator(sessions, backend, nil, nil, nil)
	record, err := o.EnsureSession(context.Background(), "alice", &scout.Credentials{Identity: "alice"}, true)

	require.NoError(t, err)
	require.Equal(t, "fresh", record.SessionID)
	require.Equal(t, 1, backend.loginCalls)
	require.Equal(t, scout.SessionStatusActive, record.Status)
	require.Equal(t, record.CreatedAt.Add(scout.DefaultSessionTTL), record.ExpiresAt)
}

func TestEnsureSession_NoLoginAllowed(t *testing.T) {
	t.Parallel()

	o := newOrchestrator(newFakeSessions(), &fakeBackend{name: "primary"}, nil, nil, nil)
	_, err := o.EnsureSession(context.Background(), "bob", nil, false)
	require.ErrorIs(t, err, scout.ErrSessionUnavailable)
}

func TestEnsureSession_SecondFactorPending(t *testing.T) {
	t.Parallel()

	sessions := newFakeSessions()
	backend := &fakeBackend{
		name:        "primary",
		loginResult: scout.LoginResult{RequiresSecondFactor: true},
	}
	o := newOrchestrator(sessions, backend, nil, nil, nil)

	_, err := o.EnsureSession(context.Background(), "bob", &scout.Credentials{Identity: "bob"}, true)
	require.ErrorIs(t, err, scout.ErrSecondFactorRequired)
	require.Zero(t, sessions.puts, "no usable record is persisted while the second factor is pending")
}

func TestEnsureSession_LoginFailure(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{name: "primary", loginErr: errors.New("driver crashed")}
	o := newOrchestrator(newFakeSessions(), backend, nil, nil, nil)

	_, err := o.EnsureSession(context.Background(), "bob", &scout.Credentials{Identity: "bob"}, true)
	require.ErrorIs(t, err, scout.ErrSessionUnavailable)
}

func TestLogout_InvalidatesSession(t *testing.T) {
	t.Parallel()

	sessions := newFakeSessions()
	record := scout.SessionRecord{
		SessionID: "sess-1",
		Owner:     "alice",
		Status:    scout.SessionStatusActive,
		ExpiresAt: time.Unix(5000, 0).Add(time.Hour),
	}
	require.NoError(t, sessions.Put(context.Background(), record))

	o := newOrchestrator(sessions, &fakeBackend{name: "primary"}, nil, nil, nil)
	require.NoError(t, o.Logout(context.Background(), "alice"))

	stored, err := sessions.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, scout.SessionStatusInvalid, stored.Status)
}

func TestScrape_WaterfallRetryCount(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", extractErr: errors.New("always down")}
	fallback := &fakeBackend{name: "fallback", offers: someOffers(2)}
	o := newOrchestrator(newFakeSessions(), primary, fallback, nil, nil)

	offers, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:        "https://shop.example.com/deals",
		MaxRetries: 1,
		Policy:     PolicyWaterfall,
	})

	require.NoError(t, err)
	require.Len(t, offers, 2)
	require.Equal(t, 2, primary.calls(), "primary is tried maxRetries+1 times")
	require.Equal(t, 1, fallback.calls(), "fallback is tried exactly once")
	require.Equal(t, "fallback", offers[0].Source)
}

func TestScrape_NegativeMaxRetriesClampsToSingleAttempt(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", extractErr: errors.New("always down")}
	fallback := &fakeBackend{name: "fallback"} // returns zero offers
	o := newOrchestrator(newFakeSessions(), primary, fallback, nil, nil)

	offers, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:        "https://shop.example.com/deals",
		MaxRetries: -3,
		Policy:     PolicyWaterfall,
	})

	require.ErrorIs(t, err, scout.ErrBackendFailure)
	require.Nil(t, offers)
	require.Equal(t, 1, primary.calls(), "primary still gets one attempt")
	require.Equal(t, 1, fallback.calls())
}

func TestScrape_WaterfallEmptyFallbackRaisesLastError(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", extractErr: errors.New("always down")}
	fallback := &fakeBackend{name: "fallback"} // returns zero offers
	o := newOrchestrator(newFakeSessions(), primary, fallback, nil, nil)

	_, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:        "https://shop.example.com/deals",
		MaxRetries: 1,
		Policy:     PolicyWaterfall,
	})

	require.ErrorIs(t, err, scout.ErrBackendFailure)
	require.Equal(t, 1, fallback.calls())
}

func TestScrape_WaterfallEmptyPrimaryIsRetried(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary"} // empty list every time
	o := newOrchestrator(newFakeSessions(), primary, nil, nil, nil)

	_, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:        "https://shop.example.com/deals",
		MaxRetries: 2,
		Policy:     PolicyWaterfall,
	})

	require.ErrorIs(t, err, scout.ErrEmptyResult)
	require.Equal(t, 3, primary.calls())
}

func TestScrape_WaterfallShortCircuitsOnSuccess(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", offers: someOffers(1), succeedAfter: 2}
	fallback := &fakeBackend{name: "fallback", offers: someOffers(1)}
	o := newOrchestrator(newFakeSessions(), primary, fallback, nil, nil)

	offers, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:        "https://shop.example.com/deals",
		MaxRetries: 4,
		Policy:     PolicyWaterfall,
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, 2, primary.calls())
	require.Zero(t, fallback.calls())
}

func TestScrape_AggregationTolerance(t *testing.T) {
	t.Parallel()

	throwing := &fakeBackend{name: "throwing", extractErr: errors.New("boom")}
	empty := &fakeBackend{name: "empty"}
	productive := &fakeBackend{name: "productive", offers: someOffers(5)}
	o := newOrchestrator(newFakeSessions(), throwing, nil,
		[]scout.Backend{throwing, empty, productive}, nil)

	offers, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:    "https://shop.example.com/deals",
		Policy: PolicyAggregate,
	})

	require.NoError(t, err)
	require.Len(t, offers, 5)
	for _, offer := range offers {
		require.Equal(t, "productive", offer.Source)
	}
	require.Equal(t, 1, throwing.calls())
	require.Equal(t, 1, empty.calls())
	require.Equal(t, 1, productive.calls())
}

func TestScrape_AggregationAllEmptyFails(t *testing.T) {
	t.Parallel()

	a := &fakeBackend{name: "a"}
	b := &fakeBackend{name: "b", extractErr: errors.New("boom")}
	o := newOrchestrator(newFakeSessions(), a, nil, []scout.Backend{a, b}, nil)

	_, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:    "https://shop.example.com/deals",
		Policy: PolicyAggregate,
	})
	require.ErrorIs(t, err, scout.ErrEmptyResult)
}

func TestScrape_AggregationDeduplicatesUnion(t *testing.T) {
	t.Parallel()

	a := &fakeBackend{name: "a", offers: someOffers(2)}
	b := &fakeBackend{name: "b", offers: someOffers(3)} // first two overlap with a
	o := newOrchestrator(newFakeSessions(), a, nil, []scout.Backend{a, b}, nil)

	offers, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:    "https://shop.example.com/deals",
		Policy: PolicyAggregate,
	})

	require.NoError(t, err)
	require.Len(t, offers, 3)
	require.Equal(t, "a", offers[0].Source, "first-seen provenance wins")
}

func TestScrape_PersistsArtifactOnSuccess(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", offers: someOffers(2)}
	artifacts := &fakeArtifacts{}
	o := newOrchestrator(newFakeSessions(), primary, nil, nil, artifacts)

	_, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:        "https://shop.example.com/deals",
		MaxRetries: 0,
		Policy:     PolicyWaterfall,
	})

	require.NoError(t, err)
	require.Len(t, artifacts.paths, 1)
	require.Contains(t, artifacts.paths[0], "scrapes/")
}

func TestScrape_ArtifactFailureDoesNotFailCall(t *testing.T) {
	t.Parallel()

	primary := &fakeBackend{name: "primary", offers: someOffers(1)}
	artifacts := &fakeArtifacts{err: errors.New("bucket gone")}
	o := newOrchestrator(newFakeSessions(), primary, nil, nil, artifacts)

	offers, err := o.Scrape(context.Background(), ScrapeRequest{
		URL:    "https://shop.example.com/deals",
		Policy: PolicyWaterfall,
	})

	require.NoError(t, err)
	require.Len(t, offers, 1)
}
