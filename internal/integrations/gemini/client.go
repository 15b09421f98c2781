package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	defaultModel    = "gemini-2.0-flash"
	keyFetchTimeout = 10 * time.Second
)

// generator is the subset of *genai.Models used by Client.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// tokenPayload is the expected JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

// Client completes prompts with a Gemini model.
type Client struct {
	model       string
	temperature *float32
	apiKey      string
	getter      Getter
	paramPrefix string

	mu  sync.Mutex
	gen generator
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.model = model
		}
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

// WithAPIKey uses key directly instead of reading it from the parameter store.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithParamStore reads the API key from "<prefix>/google-genai-token" on the
// first call.
func WithParamStore(g Getter, prefix string) Option {
	return func(c *Client) {
		c.getter = g
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	}
}

// withGenerator injects the content generator, bypassing client creation.
func withGenerator(g generator) Option {
	return func(c *Client) {
		c.gen = g
	}
}

// NewClient validates the options. The underlying genai client is created
// lazily on the first successful call and reused afterwards.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{model: defaultModel}
	for _, opt := range opts {
		opt(c)
	}
	if c.gen != nil {
		return c, nil
	}
	if c.apiKey == "" && (c.getter == nil || c.paramPrefix == "") {
		return nil, errors.New("gemini: API key or parameter store must be configured")
	}
	return c, nil
}

// generator returns the cached content generator, creating it when none has
// been stored yet. Failures are not cached, so the next call retries. Setup
// is detached from the caller's cancellation and bounded by its own timeout.
func (c *Client) generator(ctx context.Context) (generator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != nil {
		return c.gen, nil
	}

	setupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyFetchTimeout)
	defer cancel()
	key, err := c.resolveAPIKey(setupCtx)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(setupCtx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.gen = client.Models
	return c.gen, nil
}

// resolveAPIKey returns the configured key or fetches it from the parameter
// store, remembering a fetched key. Callers hold c.mu.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := c.fetchAPIKey(ctx)
	if err != nil {
		return "", err
	}
	c.apiKey = key
	return key, nil
}

func (c *Client) fetchAPIKey(ctx context.Context) (string, error) {
	name := c.paramPrefix + "/google-genai-token"
	raw, err := c.getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("gemini: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("gemini: API token is empty")
	}
	return tp.Token, nil
}

// Complete sends prompt as a single user turn and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	gen, err := c.generator(ctx)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{}
	if c.temperature != nil {
		cfg.Temperature = c.temperature
	}

	res, err := gen.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	if res == nil {
		return "", errors.New("gemini: empty response")
	}

	text := res.Text()
	if text == "" {
		return "", errors.New("gemini: response has no text")
	}
	return text, nil
}
