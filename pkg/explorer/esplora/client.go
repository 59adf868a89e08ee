package esplora

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/tdex-network/tdex-p2ptrade/pkg/circuitbreaker"
	"github.com/tdex-network/tdex-p2ptrade/pkg/explorer"
	"go.uber.org/ratelimit"
)

const defaultRequestTimeout = 15 * time.Second

// Client is an http client that throttles requests and stops sending them
// once the explorer looks down.
type Client struct {
	http    *http.Client
	limiter ratelimit.Limiter
	cb      *gobreaker.CircuitBreaker
}

// NewClient returns a client sending at most rps requests per second.
func NewClient(rps int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	limiter := ratelimit.NewUnlimited()
	if rps > 0 {
		limiter = ratelimit.New(rps)
	}
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Opts{Name: "esplora"})
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		cb:      cb,
	}
}

type response struct {
	status int
	body   string
}

// NewHTTPRequest sends the request and returns status code and body. Only
// transport errors and 5xx responses count as explorer failures.
func (c *Client) NewHTTPRequest(
	method, url, body string, headers map[string]string,
) (int, string, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		c.limiter.Take()

		req, err := http.NewRequest(method, url, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		r := response{resp.StatusCode, strings.TrimSpace(string(buf))}
		if resp.StatusCode >= http.StatusInternalServerError {
			return r, fmt.Errorf("explorer error %d: %s", r.status, r.body)
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.WithError(err).Warn("explorer circuit breaker open")
			return 0, "", fmt.Errorf("%w: %s", explorer.ErrServiceUnavailable, err)
		}
		if r, ok := res.(response); ok {
			return r.status, r.body, err
		}
		return 0, "", err
	}

	r := res.(response)
	return r.status, r.body, nil
}
