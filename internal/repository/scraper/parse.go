package scraper

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

var (
	ErrPriceNotFound = errors.New("no price element on page")
	errNoDigits      = errors.New("no digits in price text")
)

// extractPrice returns the first positive price found by the ordered selectors.
// A content attribute wins over element text.
func extractPrice(doc *goquery.Document, selectors []string) (decimal.Decimal, error) {
	var lastErr error
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		raw, ok := node.Attr("content")
		if !ok || strings.TrimSpace(raw) == "" {
			raw = node.Text()
		}
		p, err := parsePrice(raw)
		if err != nil {
			lastErr = fmt.Errorf("selector %q: %w", sel, err)
			continue
		}
		if !p.IsPositive() {
			lastErr = fmt.Errorf("selector %q: non-positive price %s", sel, p)
			continue
		}
		return p, nil
	}
	if lastErr != nil {
		return decimal.Decimal{}, lastErr
	}
	return decimal.Decimal{}, ErrPriceNotFound
}

// parsePrice normalizes display text such as "$1,299.99", "1.299,99 €" or "1,299." into a decimal.
// With a single kind of separator, exactly three trailing digits mean a thousands group.
func parsePrice(text string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".,")
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", errNoDigits, text)
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		s = normalizeSingle(s, ".")
	case lastComma >= 0:
		s = normalizeSingle(s, ",")
	}

	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", text, err)
	}
	return p.Round(2), nil
}

func normalizeSingle(s, sep string) string {
	idx := strings.LastIndex(s, sep)
	if strings.Count(s, sep) > 1 || len(s)-idx-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}
