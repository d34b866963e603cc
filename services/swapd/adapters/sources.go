package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"swapcore/services/swapd/config"
	"swapcore/services/swapd/feeder"
)

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// Registry constructs feeder sources based on configuration.
type Registry struct {
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}, Now: time.Now}
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(src config.Source) (feeder.Source, error) {
	switch strings.ToLower(strings.TrimSpace(src.Type)) {
	case "coingecko":
		return newCoinGeckoSource(r.client(), label(src.Name, "coingecko"), src.Endpoint, src.Assets, r.clock()), nil
	case "static":
		return newStaticSource(label(src.Name, "static"), src.Rates, r.clock())
	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}

// BuildAll creates every configured source.
func (r *Registry) BuildAll(sources []config.Source) ([]feeder.Source, error) {
	out := make([]feeder.Source, 0, len(sources))
	for _, src := range sources {
		built, err := r.Build(src)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", label(src.Name, src.Type), err)
		}
		out = append(out, built)
	}
	return out, nil
}

func (r *Registry) client() *http.Client {
	if r != nil && r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (r *Registry) clock() func() time.Time {
	if r != nil && r.Now != nil {
		return r.Now
	}
	return time.Now
}

type coinGeckoSource struct {
	name     string
	client   *http.Client
	endpoint string
	ids      map[string]string
	now      func() time.Time
}

func newCoinGeckoSource(client *http.Client, name, endpoint string, ids map[string]string, now func() time.Time) *coinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	mapped := make(map[string]string, len(ids))
	for k, v := range ids {
		mapped[normaliseSymbol(k)] = strings.TrimSpace(v)
	}
	return &coinGeckoSource{name: name, client: client, endpoint: ep, ids: mapped, now: now}
}

func (s *coinGeckoSource) Name() string { return s.name }

func (s *coinGeckoSource) assetID(symbol string) string {
	if id, ok := s.ids[normaliseSymbol(symbol)]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

func (s *coinGeckoSource) Fetch(ctx context.Context, asset, quote string) (feeder.Quote, error) {
	id := s.assetID(asset)
	if id == "" {
		return feeder.Quote{}, fmt.Errorf("coingecko: unmapped asset %s", asset)
	}
	vs := strings.ToLower(strings.TrimSpace(quote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return feeder.Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", vs)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := s.client.Do(req)
	if err != nil {
		return feeder.Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return feeder.Quote{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return feeder.Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return feeder.Quote{}, fmt.Errorf("coingecko: quote missing for %s", asset)
	}
	raw, ok := entry[vs]
	if !ok {
		return feeder.Quote{}, fmt.Errorf("coingecko: no %s price for %s", vs, asset)
	}
	priceStr := strings.TrimSpace(scalarString(raw))
	rate, ok := new(big.Rat).SetString(priceStr)
	if !ok || rate.Sign() <= 0 {
		return feeder.Quote{}, fmt.Errorf("coingecko: invalid rate %q", priceStr)
	}
	ts := s.now().UTC()
	if rawTs, exists := entry["last_updated_at"]; exists {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(scalarString(rawTs)), 10, 64); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0).UTC()
		}
	}
	return feeder.Quote{Rate: rate, Timestamp: ts, Source: s.name}, nil
}

type staticSource struct {
	name  string
	rates map[string]*big.Rat
	now   func() time.Time
}

func newStaticSource(name string, rates map[string]string, now func() time.Time) (*staticSource, error) {
	if len(rates) == 0 {
		return nil, fmt.Errorf("static source requires rates")
	}
	parsed := make(map[string]*big.Rat, len(rates))
	for asset, value := range rates {
		rate, ok := new(big.Rat).SetString(strings.TrimSpace(value))
		if !ok || rate.Sign() <= 0 {
			return nil, fmt.Errorf("invalid rate %q for %s", value, asset)
		}
		parsed[normaliseSymbol(asset)] = rate
	}
	return &staticSource{name: name, rates: parsed, now: now}, nil
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Fetch(ctx context.Context, asset, quote string) (feeder.Quote, error) {
	if err := ctx.Err(); err != nil {
		return feeder.Quote{}, err
	}
	rate, ok := s.rates[normaliseSymbol(asset)]
	if !ok {
		return feeder.Quote{}, fmt.Errorf("static: no rate for %s", asset)
	}
	return feeder.Quote{Rate: new(big.Rat).Set(rate), Timestamp: s.now().UTC(), Source: s.name}, nil
}

func scalarString(v any) string {
	switch value := v.(type) {
	case json.Number:
		return value.String()
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
