package rhyme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lanceczlt/Pun-Generator/pkg/metrics"
)

// DefaultBaseURL is the public Datamuse words endpoint.
const DefaultBaseURL = "https://api.datamuse.com/words"

// Client resolves rhymes through the Datamuse API.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	retries    int
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *gocache.Cache
	logger     zerolog.Logger
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	BaseURL   string
	UserAgent string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts after a transient failure.
	// Negative disables retrying.
	Retries int
	// RatePerSecond limits outgoing requests; 0 means unlimited.
	RatePerSecond float64
	Burst         int
	// CacheTTL keeps successful lookups in memory; 0 disables caching.
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewClient creates a Datamuse client.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    opts.BaseURL,
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = "pundb/1.0"
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.retries == 0 {
		c.retries = 1
	} else if c.retries < 0 {
		c.retries = 0
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	if opts.CacheTTL > 0 {
		c.cache = gocache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return c
}

type datamuseWord struct {
	Word string `json:"word"`
}

// Rhymes implements Resolver.
func (c *Client) Rhymes(ctx context.Context, word string, max int) ([]string, error) {
	key := strings.ToLower(word) + "|" + strconv.Itoa(max)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			metrics.ResolverCacheHitsTotal.Inc()
			return append([]string(nil), v.([]string)...), nil
		}
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug().Str("word", word).Int("attempt", attempt+1).Err(lastErr).Msg("retrying rhyme lookup")
		}
		words, err := c.fetch(ctx, word, max)
		if err == nil {
			metrics.ResolverRequestsTotal.WithLabelValues("ok").Inc()
			if c.cache != nil {
				c.cache.SetDefault(key, words)
			}
			return append([]string(nil), words...), nil
		}
		lastErr = err
		metrics.ResolverRequestsTotal.WithLabelValues("error").Inc()
		if !transient(ctx, err) {
			break
		}
	}
	c.logger.Warn().Err(lastErr).Str("word", word).Msg("rhyme lookup failed")
	return nil, lastErr
}

func (c *Client) fetch(ctx context.Context, word string, max int) ([]string, *Error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Word: word, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("rel_rhy", word)
	if max > 0 {
		q.Set("max", strconv.Itoa(max))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &Error{Word: word, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Word: word, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Word: word, Status: resp.StatusCode}
	}

	var body []datamuseWord
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Word: word, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	words := make([]string, 0, len(body))
	for _, w := range body {
		if w.Word != "" {
			words = append(words, w.Word)
		}
	}
	if max > 0 && len(words) > max {
		words = words[:max]
	}
	return words, nil
}

// transient reports whether a failed attempt is worth retrying.
func transient(ctx context.Context, e *Error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case e.Status == http.StatusTooManyRequests, e.Status >= 500:
		return true
	case e.Status != 0:
		return false
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) || errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, io.ErrUnexpectedEOF)
}
