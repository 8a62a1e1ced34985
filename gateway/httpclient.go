package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Client is the HTTP helper adapters use to call remote gateways. Calls run
// behind a circuit breaker so a flapping gateway fails fast instead of tying
// up initiation attempts.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// Reply is a decoded gateway response. Non-2xx replies are returned with Err
// unset so the adapter can classify the gateway's own error payload.
type Reply struct {
	StatusCode int
	Body       map[string]any
}

func NewClient(name string, timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// PostJSON sends a JSON body and decodes a JSON reply. Network failures,
// breaker rejections and undecodable replies come back as *TransportError.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body any) (*Reply, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &TransportError{Op: "encode request", Err: err}
	}

	res, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		reply := &Reply{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &reply.Body); err != nil {
				return nil, fmt.Errorf("decode reply (status %d): %w", resp.StatusCode, err)
			}
		}
		return reply, nil
	})
	if err != nil {
		return nil, &TransportError{Op: "post " + url, Err: err}
	}

	return res.(*Reply), nil
}
