// Package identity resolves archived sender addresses to an external
// user UUID via the HyperKitty-style "mailman-client" REST contract:
// GET {server}/3.0/users/{address} returning a user_id that converts to
// a UUID. The client is process-wide and lazily constructed (spec.md
// §4.8), wrapped in a sony/gobreaker circuit breaker so a down identity
// service degrades to "no enrichment" instead of stalling every
// ingestion — a deliberate redesign relative to the unconditional-retry
// Python original, recorded in DESIGN.md.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// DefaultTimeout is the per-call timeout spec.md §5 mandates for the
// identity REST call.
const DefaultTimeout = 30 * time.Second

// Client resolves addresses against one identity server. It is safe
// for concurrent use; construct one per process and share it.
type Client struct {
	Server string // base URL, no trailing slash, e.g. https://mm.example.org
	User   string
	Pass   string
	HTTP   *http.Client
	Logf   func(format string, v ...interface{})

	mu       sync.Mutex
	notFound map[string]bool // addresses cached as "no such user"
	cb       *gobreaker.CircuitBreaker
	cbOnce   sync.Once
}

// New constructs a lazily-usable Client; it performs no I/O until the
// first Resolve call.
func New(server, user, pass string) *Client {
	return &Client{
		Server:   server,
		User:     user,
		Pass:     pass,
		HTTP:     &http.Client{Timeout: DefaultTimeout},
		notFound: make(map[string]bool),
	}
}

func (c *Client) breaker() *gobreaker.CircuitBreaker {
	c.cbOnce.Do(func() {
		c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "identity-server",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if c.Logf != nil {
					c.Logf("identity: %s: %s -> %s", name, from, to)
				}
			},
		})
	})
	return c.cb
}

type usersResponse struct {
	UserID json.Number `json:"user_id"`
}

// Resolve looks up address and returns its external UUID, or "" if the
// server reports 404 (cached so repeat lookups of a known-absent
// address don't hit the network again) or the request could not be
// made at all (connection error, breaker open) — those are never
// cached, so the next enrichment attempt retries. Any other HTTP
// status propagates as an error.
func (c *Client) Resolve(ctx context.Context, address string) (string, error) {
	c.mu.Lock()
	if c.notFound[address] {
		c.mu.Unlock()
		return "", nil
	}
	c.mu.Unlock()

	result, err := c.breaker().Execute(func() (interface{}, error) {
		return c.fetch(ctx, address)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		if c.Logf != nil {
			c.Logf("identity: breaker open, skipping resolve for %s", address)
		}
		return "", nil
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// The request could not be made (connection error): not cached.
		if c.Logf != nil {
			c.Logf("identity: resolve %s: %v", address, err)
		}
		return "", nil
	}
	if err != nil {
		if err == errNotFound {
			c.mu.Lock()
			c.notFound[address] = true
			c.mu.Unlock()
			return "", nil
		}
		return "", err
	}
	return result.(string), nil
}

var errNotFound = fmt.Errorf("identity: user not found")

func (c *Client) fetch(ctx context.Context, address string) (string, error) {
	u := fmt.Sprintf("%s/3.0/users/%s", c.Server, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.User, c.Pass)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Connection error: not cached, so the next event can retry.
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", errNotFound
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("identity: server error: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity: unexpected status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out usersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("identity: decoding response: %w", err)
	}

	id, err := intStringToUUID(out.UserID.String())
	if err != nil {
		return "", err
	}
	return id, nil
}

// intStringToUUID converts the identity service's integer user_id into
// the stable UUID form the store keys users by, per spec.md §6: "a
// JSON body with a user_id field (integer convertible to UUID)".
func intStringToUUID(userID string) (string, error) {
	var n uint64
	if _, err := fmt.Sscanf(userID, "%d", &n); err != nil {
		return "", fmt.Errorf("identity: user_id %q not an integer: %w", userID, err)
	}
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[15-i] = byte(n >> (8 * i))
	}
	return uuid.Must(uuid.FromBytes(buf[:])).String(), nil
}
