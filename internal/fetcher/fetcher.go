// Package fetcher retrieves URLs through a progressive proxy escalation
// ladder, remembering per-host which tier was required (C5).
package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Tier is a proxy escalation level.
type Tier int

const (
	TierDirect Tier = iota
	TierStandard
	TierPremium
	TierStealth
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierStandard:
		return "standard"
	case TierPremium:
		return "premium"
	case TierStealth:
		return "stealth"
	default:
		return "unknown"
	}
}

// Result is a successful fetch.
type Result struct {
	StatusCode  int
	ContentBytes []byte
	ContentType string
	FinalURL    string
	Headers     http.Header
	Tier        Tier
}

// ContentChecker rejects technically-200 responses that are semantically
// empty (login walls, JS placeholders, CAPTCHA pages), triggering promotion
// to the next tier.
type ContentChecker func(content []byte) bool

// Config configures the fetcher's tiers and limits.
type Config struct {
	DefaultCountryCode string
	MaxBodyBytes       int64
	StandardProxyURL   string
	PremiumProxyURL    string
	RequestTimeout     time.Duration
}

// Fetcher retrieves URLs, escalating through tiers on failure and
// remembering the tier each host required.
type Fetcher struct {
	cfg Config

	directClient   *http.Client
	standardClient *http.Client
	premiumClient  *http.Client

	mu       sync.Mutex
	hostTier map[string]Tier
}

// New builds a Fetcher from cfg.
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:            cfg,
		directClient:   newClient(cfg.RequestTimeout, ""),
		standardClient: newClient(cfg.RequestTimeout, cfg.StandardProxyURL),
		premiumClient:  newClient(cfg.RequestTimeout, cfg.PremiumProxyURL),
		hostTier:       make(map[string]Tier),
	}
}

func newClient(timeout time.Duration, proxyURL string) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Fetch retrieves url, escalating tiers per policy and per-host memory until
// a tier yields a 2xx response that passes checker (if non-nil).
func (f *Fetcher) Fetch(ctx context.Context, target string, policy domain.FetchPolicy, checker ContentChecker) (*Result, error) {
	startTier := f.startTierFor(target, policy)

	var lastErr error
	for tier := startTier; tier <= TierStealth; tier++ {
		result, err := f.fetchTier(ctx, target, policy, tier)
		if err != nil {
			lastErr = err
			if isCancellation(err) {
				return nil, domain.NewCancelledError("fetch cancelled for " + target)
			}
			continue
		}

		if result.StatusCode < 200 || result.StatusCode > 299 {
			lastErr = fmt.Errorf("tier %s returned status %d", tier, result.StatusCode)
			continue
		}

		if checker != nil && !checker(result.ContentBytes) {
			lastErr = fmt.Errorf("tier %s content rejected by content checker", tier)
			continue
		}

		f.rememberTier(target, tier)
		result.Tier = tier
		return result, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all tiers exhausted for %s", target)
	}
	return nil, domain.NewTransientBackendError("fetcher.fetch", lastErr)
}

func (f *Fetcher) fetchTier(ctx context.Context, target string, policy domain.FetchPolicy, tier Tier) (*Result, error) {
	if tier == TierStealth {
		return f.fetchStealth(ctx, target)
	}
	return f.fetchHTTP(ctx, target, policy, tier)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, target string, policy domain.FetchPolicy, tier Tier) (*Result, error) {
	client := f.clientForTier(tier)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	applyBrowserHeaders(req, target)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limit := f.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &Result{
		StatusCode:   resp.StatusCode,
		ContentBytes: body,
		ContentType:  resp.Header.Get("Content-Type"),
		FinalURL:     resp.Request.URL.String(),
		Headers:      resp.Header,
	}, nil
}

func (f *Fetcher) fetchStealth(ctx context.Context, target string) (*Result, error) {
	allocCtx, cancel := chromedp.NewContext(ctx)
	defer cancel()

	var html string
	err := chromedp.Run(allocCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		waitNetworkIdle(500*time.Millisecond, 10*time.Second),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("stealth render failed: %w", err)
	}

	return &Result{
		StatusCode:   http.StatusOK,
		ContentBytes: []byte(html),
		ContentType:  "text/html",
		FinalURL:     target,
		Headers:      http.Header{},
	}, nil
}

// waitNetworkIdle blocks until the page has gone quiet seconds without a
// request completing or failing, or timeout elapses, whichever comes first
// (§4.5 Tier implementation: "navigate, wait for network idle").
func waitNetworkIdle(quiet, timeout time.Duration) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return err
		}

		inFlight := make(map[network.RequestID]struct{})
		var mu sync.Mutex
		activity := make(chan struct{}, 1)
		notify := func() {
			select {
			case activity <- struct{}{}:
			default:
			}
		}

		chromedp.ListenTarget(ctx, func(ev interface{}) {
			switch e := ev.(type) {
			case *network.EventRequestWillBeSent:
				mu.Lock()
				inFlight[e.RequestID] = struct{}{}
				mu.Unlock()
			case *network.EventLoadingFinished:
				mu.Lock()
				delete(inFlight, e.RequestID)
				mu.Unlock()
				notify()
			case *network.EventLoadingFailed:
				mu.Lock()
				delete(inFlight, e.RequestID)
				mu.Unlock()
				notify()
			}
		})

		timer := time.NewTimer(quiet)
		defer timer.Stop()
		deadlineTimer := time.NewTimer(timeout)
		defer deadlineTimer.Stop()
		for {
			select {
			case <-timer.C:
				mu.Lock()
				idle := len(inFlight) == 0
				mu.Unlock()
				if idle {
					return nil
				}
				timer.Reset(quiet)
			case <-activity:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(quiet)
			case <-deadlineTimer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (f *Fetcher) clientForTier(tier Tier) *http.Client {
	switch tier {
	case TierStandard:
		return f.standardClient
	case TierPremium:
		return f.premiumClient
	default:
		return f.directClient
	}
}

// startTierFor returns the higher of the policy's requested tier and the
// tier this host was previously observed to require.
func (f *Fetcher) startTierFor(target string, policy domain.FetchPolicy) Tier {
	policyTier := TierDirect
	if policy.StealthProxy {
		policyTier = TierStealth
	} else if policy.PremiumProxy {
		policyTier = TierPremium
	}

	host := hostOf(target)
	f.mu.Lock()
	remembered, ok := f.hostTier[host]
	f.mu.Unlock()

	if !ok {
		return policyTier
	}
	if remembered > policyTier {
		return remembered
	}
	return policyTier
}

func (f *Fetcher) rememberTier(target string, tier Tier) {
	host := hostOf(target)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hostTier[host] = tier
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	return u.Hostname()
}

func isCancellation(err error) bool {
	return err == context.Canceled || strings.Contains(err.Error(), "context canceled")
}

// applyBrowserHeaders sets a realistic Chrome header set, with per-site
// Referer overrides, to reduce the chance of a bot challenge.
func applyBrowserHeaders(req *http.Request, target string) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Cache-Control", "max-age=0")

	switch {
	case strings.Contains(target, "livemint.com"), strings.Contains(target, "cbd.ae"):
		req.Header.Set("Referer", "https://www.google.com/")
	}
}
