// Package collyscraper implements an extraction backend on top of the
// Colly collector. It parses server-rendered offer listings; pages that
// need JavaScript belong to the headless backend.
package collyscraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/scout"
)

// Selectors maps listing structure to CSS selectors. Zero-value selectors
// fall back to the defaults below, which match the markup of the reference
// storefront.
type Selectors struct {
	Item          string `mapstructure:"item"`
	Title         string `mapstructure:"title"`
	Price         string `mapstructure:"price"`
	OriginalPrice string `mapstructure:"original_price"`
	Brand         string `mapstructure:"brand"`
	Category      string `mapstructure:"category"`
	Link          string `mapstructure:"link"`
	Image         string `mapstructure:"image"`
	Availability  string `mapstructure:"availability"`
}

func (s Selectors) withDefaults() Selectors {
	def := Selectors{
		Item:          "div.offer-card",
		Title:         ".offer-title",
		Price:         ".offer-price",
		OriginalPrice: ".offer-price-original",
		Brand:         ".offer-brand",
		Category:      ".offer-category",
		Link:          "a.offer-link",
		Image:         "img.offer-image",
		Availability:  ".offer-availability",
	}
	if s.Item != "" {
		def.Item = s.Item
	}
	if s.Title != "" {
		def.Title = s.Title
	}
	if s.Price != "" {
		def.Price = s.Price
	}
	if s.OriginalPrice != "" {
		def.OriginalPrice = s.OriginalPrice
	}
	if s.Brand != "" {
		def.Brand = s.Brand
	}
	if s.Category != "" {
		def.Category = s.Category
	}
	if s.Link != "" {
		def.Link = s.Link
	}
	if s.Image != "" {
		def.Image = s.Image
	}
	if s.Availability != "" {
		def.Availability = s.Availability
	}
	return def
}

// Config controls collector behavior. ShellThreshold is the body size below
// which high script density marks a page as client-rendered; zero picks a
// default.
type Config struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ShellThreshold int           `mapstructure:"shell_threshold"`
	Selectors      Selectors     `mapstructure:"selectors"`
}

// Backend extracts offers with Colly. It cannot authenticate; Login always
// fails so callers fall through to a backend that can.
type Backend struct {
	cfg           Config
	selectors     Selectors
	shell         renderHeuristic
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Backend.
func New(cfg Config, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	c.WithTransport(newHTTPTransport(nil))

	return &Backend{
		cfg:           cfg,
		selectors:     cfg.Selectors.withDefaults(),
		shell:         newRenderHeuristic(cfg.ShellThreshold),
		baseCollector: c,
		logger:        logger,
	}
}

// Name identifies the backend in logs, events, and offer provenance.
func (b *Backend) Name() string { return "colly" }

// Login is unsupported; this backend only reads public listings.
func (b *Backend) Login(context.Context, scout.LoginRequest) (scout.LoginResult, error) {
	return scout.LoginResult{}, fmt.Errorf("colly backend cannot authenticate: %w", scout.ErrBackendFailure)
}

// Extract visits the listing URL and parses each offer card.
func (b *Backend) Extract(ctx context.Context, req scout.ExtractRequest) ([]scout.Offer, error) {
	collector := b.baseCollector.Clone()
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	timeout := b.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	if req.Proxy != nil {
		collector.WithTransport(newHTTPTransport(req.Proxy))
	}

	var (
		offers   []scout.Offer
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		for key, value := range req.Headers {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	collector.OnHTML(b.selectors.Item, func(el *colly.HTMLElement) {
		offer, ok := b.parseOffer(el)
		if !ok {
			return
		}
		offers = append(offers, offer)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := b.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return nil, err
	}
	if len(offers) == 0 && b.shell.needsRendering(body) {
		return nil, fmt.Errorf("listing at %s appears client-rendered: %w", req.URL, scout.ErrBackendFailure)
	}
	b.logger.Debug("colly extraction finished",
		zap.String("url", req.URL), zap.Int("offers", len(offers)))
	return offers, nil
}

func (b *Backend) parseOffer(el *colly.HTMLElement) (scout.Offer, bool) {
	title := strings.TrimSpace(el.ChildText(b.selectors.Title))
	if title == "" {
		return scout.Offer{}, false
	}
	price, ok := parsePrice(el.ChildText(b.selectors.Price))
	if !ok {
		b.logger.Debug("offer card without a parsable price", zap.String("title", title))
		return scout.Offer{}, false
	}

	offer := scout.Offer{
		Title:        title,
		Price:        price,
		Brand:        strings.TrimSpace(el.ChildText(b.selectors.Brand)),
		Category:     strings.TrimSpace(el.ChildText(b.selectors.Category)),
		URL:          el.Request.AbsoluteURL(el.ChildAttr(b.selectors.Link, "href")),
		ImageURL:     el.Request.AbsoluteURL(el.ChildAttr(b.selectors.Image, "src")),
		Availability: parseAvailability(el.ChildText(b.selectors.Availability)),
	}
	if original, ok := parsePrice(el.ChildText(b.selectors.OriginalPrice)); ok && original > price {
		offer.OriginalPrice = original
		offer.DiscountPct = (original - price) / original * 100
	}
	return offer, true
}

func (b *Backend) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly extract canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %v: %w", err, scout.ErrBackendFailure)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %v: %w", *fetchErr, scout.ErrBackendFailure)
		}
		return nil
	}
}

// parsePrice strips currency symbols and thousands separators before
// parsing. "1.299,99" style European formatting is normalized to a dot
// decimal.
func parsePrice(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, raw)
	if cleaned == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	if lastComma > lastDot {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.Replace(cleaned, ",", ".", 1)
	} else {
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

func parseAvailability(raw string) scout.Availability {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "out of stock", "sold out", "unavailable":
		return scout.AvailabilityOutOfStock
	case "limited", "low stock", "few left":
		return scout.AvailabilityLimited
	default:
		return scout.AvailabilityInStock
	}
}

func newHTTPTransport(proxy *scout.ProxyConfig) *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxy != nil {
		proxyURL := &url.URL{Scheme: proxy.Protocol, Host: proxy.Address()}
		if proxy.Username != "" {
			proxyURL.User = url.UserPassword(proxy.Username, proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return transport
}
