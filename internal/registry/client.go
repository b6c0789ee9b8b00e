package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Options struct {
	BaseURL     string
	FallbackIPs []string
	Resolver    Resolver
	Timeout     time.Duration
	UserAgent   string
	Dial        DialFunc
	Logger      *slog.Logger
}

// Client fetches skill listings. When the registry host cannot be reached by
// name, the same request is retried pinned to alternate addresses while the
// Host header and TLS server name stay on the registry host.
type Client struct {
	base *url.URL
	opts Options
	log  *slog.Logger
}

// UnavailableError reports that every endpoint in the fallback chain failed.
type UnavailableError struct {
	Host     string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("REG_UNAVAILABLE: %s unreachable after %d attempts: %v", e.Host, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("REG_CONFIG: invalid base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "skillatlas"
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{Timeout: opts.Timeout}).DialContext
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{base: u, opts: opts, log: log}, nil
}

// FetchSkills lists up to limit skills ranked by view.
func (c *Client) FetchSkills(ctx context.Context, view string, limit int) ([]Skill, error) {
	view = NormalizeView(view)
	if view == "" {
		view = "all-time"
	}
	if !IsValidView(view) {
		return nil, fmt.Errorf("REG_VIEW: unknown view %q", view)
	}
	q := url.Values{}
	q.Set("view", view)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := c.base.String() + "/api/skills?" + q.Encode()

	attempts := 1
	skills, err := c.fetch(ctx, endpoint, "")
	if err == nil {
		return skills, nil
	}
	c.log.Warn("registry direct request failed", "host", c.base.Hostname(), "err", err)
	lastErr := err

	for _, ip := range c.fallbackAddrs(ctx) {
		attempts++
		skills, err := c.fetch(ctx, endpoint, ip)
		if err == nil {
			c.log.Info("registry reached via pinned address", "host", c.base.Hostname(), "ip", ip)
			return skills, nil
		}
		c.log.Debug("registry pinned request failed", "ip", ip, "err", err)
		lastErr = err
	}
	return nil, &UnavailableError{Host: c.base.Hostname(), Attempts: attempts, Err: lastErr}
}

// fallbackAddrs returns live DNS answers followed by the configured list,
// de-duplicated in order.
func (c *Client) fallbackAddrs(ctx context.Context) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(ip string) {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			return
		}
		if _, ok := seen[ip]; ok {
			return
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	if c.opts.Resolver != nil {
		ips, err := c.opts.Resolver.LookupIPv4(ctx, c.base.Hostname())
		if err != nil {
			c.log.Debug("registry dns lookup failed", "err", err)
		}
		for _, ip := range ips {
			add(ip)
		}
	}
	for _, ip := range c.opts.FallbackIPs {
		add(ip)
	}
	return out
}

func (c *Client) fetch(ctx context.Context, endpoint, pinIP string) ([]Skill, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)

	client := &http.Client{Transport: c.transport(pinIP)}
	defer client.CloseIdleConnections()
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timeout after %s", c.opts.Timeout)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Skills []Skill `json:"skills"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid registry payload: %w", err)
	}
	if doc.Skills == nil {
		return nil, fmt.Errorf("invalid registry payload: missing skills")
	}
	return doc.Skills, nil
}

func (c *Client) transport(pinIP string) *http.Transport {
	dial := c.opts.Dial
	t := &http.Transport{
		TLSHandshakeTimeout: c.opts.Timeout,
		DialContext:         dial,
	}
	if pinIP == "" {
		return t
	}
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		return dial(ctx, network, net.JoinHostPort(pinIP, port))
	}
	return t
}
