// Package pricefeed contiene los clientes de los proveedores de precio upstream.
// Todos comparten el mismo transporte HTTP con rate limiting y retries.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxRetries    = 2
	baseRetryWait = 500 * time.Millisecond
)

// StatusError es una respuesta no-200 que no se reintenta.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Code, e.Body)
}

// Options configura el transporte compartido de un proveedor.
type Options struct {
	BaseURL       string
	APIKey        string
	RatePerSecond float64
	Burst         int
	MaxRetries    int           // 0 = default
	RetryWait     time.Duration // 0 = default
	HTTPClient    *http.Client
	Now           func() time.Time // reloj inyectable
}

func (o Options) clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

// client es el transporte HTTP común: rate limiter + backoff exponencial.
type client struct {
	name      string
	base      string
	http      *http.Client
	limiter   *rate.Limiter
	headers   map[string]string
	retries   int
	retryWait time.Duration
}

func newClient(name, defaultBase string, opts Options) *client {
	base := opts.BaseURL
	if base == "" {
		base = defaultBase
	}
	rps := opts.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = maxRetries
	}
	wait := opts.RetryWait
	if wait <= 0 {
		wait = baseRetryWait
	}
	return &client{
		name:      name,
		base:      base,
		http:      hc,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		headers:   make(map[string]string),
		retries:   retries,
		retryWait: wait,
	}
}

// get hace un GET con rate limiting y retries y decodifica JSON en out.
func (c *client) get(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		return c.http.Do(req)
	}, out)
}

// doWithRetry reintenta errores de red, 429 y 5xx con backoff exponencial.
// Los 4xx se devuelven como *StatusError sin reintentar.
func (c *client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", c.name, err)
		}

		resp, err := fn()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || attempt == c.retries {
				break
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &StatusError{Provider: c.name, Code: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests {
				slog.Warn("rate limited by provider", "provider", c.name, "attempt", attempt+1)
			}
			if attempt == c.retries {
				break
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return &StatusError{Provider: c.name, Code: resp.StatusCode, Body: string(body)}
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.name, err)
		}
		return nil
	}
	return fmt.Errorf("%s: request failed after %d retries: %w", c.name, c.retries, lastErr)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// networkIDs mapea nuestra cadena al identificador de cada proveedor.
type networkIDs map[string]string

func (n networkIDs) lookup(chain string) (string, bool) {
	id, ok := n[strings.ToLower(strings.TrimSpace(chain))]
	return id, ok
}
