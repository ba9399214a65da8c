package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/NordCoder/Pricewatch/internal/domain/price"
)

var (
	DefaultSelectors = []string{"span.a-price-whole", "span.a-offscreen", "[itemprop=price]"}

	errUnresolvable = errors.New("product ref is not a URL and no url template is configured")
)

const (
	defaultTimeout   = 15 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	defaultMaxBody   = 4 << 20
)

// Source fetches product pages over HTTP and reads the price out of the HTML.
type Source struct {
	client *http.Client
	cfg    Config
	now    func() time.Time
}

var _ price.Source = (*Source)(nil)

func New(cfg Config, client *http.Client) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = DefaultSelectors
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if client == nil {
		client = NewHTTPClient(cfg)
	}
	return &Source{client: client, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Source) Fetch(ctx context.Context, ref string) price.Observation {
	at := s.now()
	target, err := s.resolve(ref)
	if err != nil {
		return price.Failure(ref, price.OutcomeNotFound, err, at)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return price.Failure(ref, price.OutcomeNotFound, fmt.Errorf("build request: %w", err), at)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	if s.cfg.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", s.cfg.AcceptLanguage)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return price.Failure(ref, price.OutcomeNetworkFailure, fmt.Errorf("get %s: %w", target, err), at)
	}
	defer resp.Body.Close()

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound || code == http.StatusGone:
		return price.Failure(ref, price.OutcomeNotFound, fmt.Errorf("get %s: status %d", target, code), at)
	case code >= 400:
		return price.Failure(ref, price.OutcomeNetworkFailure, fmt.Errorf("get %s: status %d", target, code), at)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return price.Failure(ref, price.OutcomeNetworkFailure, fmt.Errorf("read %s: %w", target, err), at)
		}
		return price.Failure(ref, price.OutcomeParseFailure, fmt.Errorf("parse %s: %w", target, err), at)
	}
	p, err := extractPrice(doc, s.cfg.Selectors)
	if err != nil {
		return price.Failure(ref, price.OutcomeParseFailure, err, at)
	}
	return price.Success(ref, p, at)
}

func (s *Source) resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty product ref")
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		if _, err := url.ParseRequestURI(ref); err != nil {
			return "", fmt.Errorf("invalid product url: %w", err)
		}
		return ref, nil
	}
	if !strings.Contains(s.cfg.URLTemplate, "%s") {
		return "", errUnresolvable
	}
	return fmt.Sprintf(s.cfg.URLTemplate, url.PathEscape(ref)), nil
}
