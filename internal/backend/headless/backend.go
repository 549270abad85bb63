// Package headless implements a chromedp-backed backend for storefronts
// that render offers with JavaScript or sit behind a login form.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/scout"
)

// Config controls the headless browser and the login form selectors.
type Config struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`

	LoginURL             string `mapstructure:"login_url"`
	IdentitySelector     string `mapstructure:"identity_selector"`
	SecretSelector       string `mapstructure:"secret_selector"`
	SubmitSelector       string `mapstructure:"submit_selector"`
	SecondFactorSelector string `mapstructure:"second_factor_selector"`
	LoggedInSelector     string `mapstructure:"logged_in_selector"`
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.IdentitySelector == "" {
		c.IdentitySelector = `input[name="email"]`
	}
	if c.SecretSelector == "" {
		c.SecretSelector = `input[name="password"]`
	}
	if c.SubmitSelector == "" {
		c.SubmitSelector = `button[type="submit"]`
	}
	if c.SecondFactorSelector == "" {
		c.SecondFactorSelector = `input[name="otp"]`
	}
	if c.LoggedInSelector == "" {
		c.LoggedInSelector = `[data-account-menu]`
	}
	return c
}

// extractScript pulls offer cards out of the rendered DOM. It runs inside
// the page, so changes here must stay valid browser-side JavaScript.
const extractScript = `
(() => {
	const text = (el, sel) => {
		const n = el.querySelector(sel);
		return n ? n.textContent.trim() : "";
	};
	const attr = (el, sel, name) => {
		const n = el.querySelector(sel);
		return n ? (n.getAttribute(name) || "") : "";
	};
	const price = (raw) => {
		const m = raw.replace(/[^0-9.,]/g, "").replace(/,(?=\d{3}\b)/g, "");
		const v = parseFloat(m.replace(",", "."));
		return isNaN(v) ? null : v;
	};
	return Array.from(document.querySelectorAll("div.offer-card")).map(card => ({
		title: text(card, ".offer-title"),
		price: price(text(card, ".offer-price")),
		originalPrice: price(text(card, ".offer-price-original")),
		brand: text(card, ".offer-brand"),
		category: text(card, ".offer-category"),
		url: attr(card, "a.offer-link", "href"),
		imageUrl: attr(card, "img.offer-image", "src"),
		availability: text(card, ".offer-availability"),
	})).filter(o => o.title !== "" && o.price !== null);
})()`

type offerDTO struct {
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	OriginalPrice float64 `json:"originalPrice"`
	Brand         string  `json:"brand"`
	Category      string  `json:"category"`
	URL           string  `json:"url"`
	ImageURL      string  `json:"imageUrl"`
	Availability  string  `json:"availability"`
}

// Backend drives headless Chrome through chromedp.
type Backend struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a headless backend. Close must be called to release the
// browser allocator.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Backend{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context.
func (b *Backend) Close() {
	b.allocCancel()
}

// Name identifies the backend in logs, events, and offer provenance.
func (b *Backend) Name() string { return "headless" }

// Login fills the storefront login form and captures the session cookies.
// A visible second-factor prompt after submit is reported without error so
// the caller can surface the pending challenge.
func (b *Backend) Login(ctx context.Context, req scout.LoginRequest) (scout.LoginResult, error) {
	if b.cfg.LoginURL == "" {
		return scout.LoginResult{}, fmt.Errorf("login url not configured: %w", scout.ErrBackendFailure)
	}
	if err := b.acquire(ctx); err != nil {
		return scout.LoginResult{}, err
	}
	defer b.release()

	taskCtx, cancel, err := b.newTask(ctx)
	if err != nil {
		return scout.LoginResult{}, err
	}
	defer cancel()

	var (
		secondFactor bool
		loggedIn     bool
		userAgent    string
		cookies      []*network.Cookie
	)
	err = chromedp.Run(taskCtx,
		b.setupAction(req.Headers),
		chromedp.Navigate(b.cfg.LoginURL),
		chromedp.WaitVisible(b.cfg.IdentitySelector, chromedp.ByQuery),
		chromedp.SendKeys(b.cfg.IdentitySelector, req.Identity, chromedp.ByQuery),
		chromedp.SendKeys(b.cfg.SecretSelector, req.Secret, chromedp.ByQuery),
		chromedp.Click(b.cfg.SubmitSelector, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.Evaluate(selectorVisibleScript(b.cfg.SecondFactorSelector), &secondFactor),
		chromedp.Evaluate(selectorVisibleScript(b.cfg.LoggedInSelector), &loggedIn),
		chromedp.Evaluate(`navigator.userAgent`, &userAgent),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return scout.LoginResult{}, fmt.Errorf("headless login: %v: %w", err, scout.ErrBackendFailure)
	}

	if secondFactor {
		return scout.LoginResult{RequiresSecondFactor: true}, nil
	}
	if !loggedIn {
		return scout.LoginResult{ErrorText: "login form rejected the credentials"}, nil
	}

	result := scout.LoginResult{
		Success:     true,
		Fingerprint: map[string]string{"user_agent": userAgent},
	}
	for _, c := range cookies {
		result.Cookies = append(result.Cookies, scout.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	b.logger.Info("headless login succeeded", zap.Int("cookies", len(result.Cookies)))
	return result, nil
}

// Extract renders the listing page and pulls offers from the live DOM.
func (b *Backend) Extract(ctx context.Context, req scout.ExtractRequest) ([]scout.Offer, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	defer b.release()

	taskCtx, cancel, err := b.newTask(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var dtos []offerDTO
	err = chromedp.Run(taskCtx,
		b.setupAction(req.Headers),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Evaluate(extractScript, &dtos),
	)
	if err != nil {
		return nil, fmt.Errorf("headless extract: %v: %w", err, scout.ErrBackendFailure)
	}

	offers := make([]scout.Offer, 0, len(dtos))
	for _, dto := range dtos {
		offer := scout.Offer{
			Title:        dto.Title,
			Price:        dto.Price,
			Brand:        dto.Brand,
			Category:     dto.Category,
			URL:          dto.URL,
			ImageURL:     dto.ImageURL,
			Availability: parseAvailability(dto.Availability),
		}
		if dto.OriginalPrice > dto.Price {
			offer.OriginalPrice = dto.OriginalPrice
			offer.DiscountPct = (dto.OriginalPrice - dto.Price) / dto.OriginalPrice * 100
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// Resolve returns the text content of a single element on the rendered
// page.
func (b *Backend) Resolve(ctx context.Context, req scout.ResolveRequest) (scout.ResolveResult, error) {
	if err := b.acquire(ctx); err != nil {
		return scout.ResolveResult{}, err
	}
	defer b.release()

	taskCtx, cancel, err := b.newTask(ctx)
	if err != nil {
		return scout.ResolveResult{}, err
	}
	defer cancel()

	var data string
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Text(req.Selector, &data, chromedp.ByQuery),
	)
	if err != nil {
		return scout.ResolveResult{ErrorText: err.Error()}, fmt.Errorf("headless resolve: %v: %w", err, scout.ErrBackendFailure)
	}
	return scout.ResolveResult{Success: true, Data: data}, nil
}

func (b *Backend) newTask(ctx context.Context) (context.Context, context.CancelFunc, error) {
	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, b.cfg.NavigationTimeout)

	stop := context.AfterFunc(ctx, timeoutCancel)
	cancel := func() {
		stop()
		timeoutCancel()
		taskCancel()
	}
	return taskCtx, cancel, nil
}

func (b *Backend) setupAction(headers map[string]string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return err
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return err
			}
		}
		if len(headers) > 0 {
			extra := make(network.Headers, len(headers))
			for k, v := range headers {
				extra[k] = v
			}
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) release() {
	if b.limiter == nil {
		return
	}
	<-b.limiter
}

// selectorVisibleScript builds a page-side expression reporting whether an
// element matching sel exists and is rendered.
func selectorVisibleScript(sel string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	return el !== null && el.offsetParent !== null;
})()`, sel)
}

func parseAvailability(raw string) scout.Availability {
	switch raw {
	case "Out of stock", "Sold out", "Unavailable", "out of stock", "sold out", "unavailable":
		return scout.AvailabilityOutOfStock
	case "Limited", "Low stock", "limited", "low stock":
		return scout.AvailabilityLimited
	default:
		return scout.AvailabilityInStock
	}
}
