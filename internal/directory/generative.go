package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/quickassist/internal/model"
)

// DefaultEndpoint is the generateContent API base URL.
const DefaultEndpoint = "https://generativelanguage.googleapis.com"

// DefaultModel is the model asked to produce listings.
const DefaultModel = "gemini-2.5-flash"

// DefaultCount is how many providers a query asks for.
const DefaultCount = 6

// GenerativeConfig configures a Generative directory.
type GenerativeConfig struct {
	Endpoint string
	Model    string
	APIKey   string
	Count    int
	Timeout  time.Duration

	// RatePerSecond and Burst throttle outgoing requests. A zero rate
	// disables throttling.
	RatePerSecond float64
	Burst         int

	HTTPClient *http.Client
}

// Generative asks a generative model to produce plausible local listings
// as JSON and validates them before they reach a session.
//
// Thread-safety: safe for concurrent use.
type Generative struct {
	endpoint   string
	model      string
	apiKey     string
	count      int
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewGenerative creates a generative directory client.
func NewGenerative(cfg GenerativeConfig) *Generative {
	g := &Generative{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		count:      cfg.Count,
		httpClient: cfg.HTTPClient,
	}
	if g.endpoint == "" {
		g.endpoint = DefaultEndpoint
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.count <= 0 {
		g.count = DefaultCount
	}
	if g.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		g.httpClient = &http.Client{Timeout: timeout}
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return g
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
	Temperature      float64 `json:"temperature"`
}

// schema is the subset of the OpenAPI schema object the endpoint accepts.
type schema struct {
	Type       string             `json:"type"`
	Items      *schema            `json:"items,omitempty"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

// listingSchema constrains the model's answer to an array of provider
// records shaped like model.Provider.
var listingSchema = &schema{
	Type: "ARRAY",
	Items: &schema{
		Type: "OBJECT",
		Properties: map[string]*schema{
			"id":          {Type: "STRING"},
			"name":        {Type: "STRING"},
			"category":    {Type: "STRING"},
			"rating":      {Type: "NUMBER"},
			"reviewCount": {Type: "NUMBER"},
			"distance":    {Type: "STRING"},
			"address":     {Type: "STRING"},
			"mobile":      {Type: "STRING"},
			"isOpen":      {Type: "BOOLEAN"},
			"description": {Type: "STRING"},
		},
		Required: []string{"id", "name", "category", "rating", "distance", "address", "mobile", "isOpen"},
	},
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Query implements Directory.
func (g *Generative) Query(ctx context.Context, serviceName string, origin model.Coordinate) ([]model.Provider, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: api key not configured", ErrUnavailable)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %w", ErrUnavailable, err)
		}
	}

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: Prompt(serviceName, origin, g.count)}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   listingSchema,
			Temperature:      1,
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(body), 200))
	}

	providers, err := decodeListings(body)
	if err != nil {
		return nil, err
	}
	slog.Debug("directory query answered",
		"service", serviceName,
		"providers", len(providers),
		"duration", time.Since(start),
	)
	return providers, nil
}

func decodeListings(body []byte) ([]model.Provider, error) {
	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return []model.Provider{}, nil
	}
	text := strings.TrimSpace(gr.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return []model.Provider{}, nil
	}

	var providers []model.Provider
	if err := json.Unmarshal([]byte(text), &providers); err != nil {
		return nil, fmt.Errorf("%w: listings: %w", ErrMalformedResponse, err)
	}
	if providers == nil {
		providers = []model.Provider{}
	}
	if err := Validate(providers); err != nil {
		return nil, err
	}
	return providers, nil
}

// Prompt builds the listing request sent to the model.
func Prompt(serviceName string, origin model.Coordinate, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a JSON list of %d realistic %s options that would be located near Latitude: %g, Longitude: %g ", count, serviceName, origin.Lat, origin.Lng)
	b.WriteString("(Preferably in Odisha, India context like Bhubaneswar, Cuttack, Puri if coordinates match or as fallback).\n")
	b.WriteString("- Each item has id, name, category, rating, reviewCount, distance, address, mobile, isOpen and description.\n")
	b.WriteString("- Names should be realistic for Odisha.\n")
	b.WriteString("- Distances are measured from the user location, e.g. \"0.5 km\".\n")
	b.WriteString("- Ratings between 4.0 and 5.0.\n")
	b.WriteString("- isOpen should be mostly true.\n")
	b.WriteString("- Address must be a realistic address in Odisha.\n")
	b.WriteString("- Mobile numbers are 10-digit Indian numbers starting with 9, 8, 7 or 6.\n")
	b.WriteString("- Description is a short one-line summary of the service.")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
