// Package checker implements the HTTP prober: a single probe with timeout
// split, retries with exponential backoff, TLS policy, and per-phase timing.
package checker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// Result is the outcome of one probe. StatusCode is nil when no HTTP
// response was received; phase timings are nil when unavailable.
type Result struct {
	OK         bool
	StatusCode *int
	LatencyMs  int64
	ErrorText  string

	DNSMs     *int64
	ConnectMs *int64
	TLSMs     *int64
	TTFBMs    *int64
}

// Options configures a Checker. Zero values fall back to defaults.
type Options struct {
	MaxConcurrent  int           // capacity of the per-instance slot pool
	ConnectTimeout time.Duration // upper bound for the connect phase
	UserAgent      string

	MaxAttempts int           // total attempts, >= 1
	BaseBackoff time.Duration // backoff before attempt n+1 = base * 2^(n-1) + jitter
	Jitter      time.Duration

	SSLVerify     bool
	CABundlePath  string
	InsecureRetry bool // one insecure re-issue on TLS verification failure
}

// Checker owns the outbound HTTP client and executes probes. It is safe for
// concurrent use; the connection pool of the shared client is its only
// long-lived state.
type Checker struct {
	opts     Options
	slots    *semaphore.Weighted
	client   *http.Client
	insecure *http.Client

	// sleep is the backoff sleeper, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

const (
	defaultMaxConcurrent  = 5
	defaultConnectTimeout = 3 * time.Second
	defaultUserAgent      = "PingTower/1.0 (+https://github.com/pingtower/pingtower)"
)

// New creates a Checker. A CA bundle that fails to load is logged and
// ignored: verification falls back to the system roots, never off.
func New(opts Options) *Checker {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	tlsCfg := &tls.Config{}
	if !opts.SSLVerify {
		tlsCfg.InsecureSkipVerify = true
	} else if opts.CABundlePath != "" {
		if pool := loadCABundle(opts.CABundlePath); pool != nil {
			tlsCfg.RootCAs = pool
		}
	}

	c := &Checker{
		opts:   opts,
		slots:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		client: newClient(tlsCfg, opts.ConnectTimeout),
		sleep:  sleepCtx,
	}
	if opts.SSLVerify && opts.InsecureRetry {
		c.insecure = newClient(&tls.Config{InsecureSkipVerify: true}, opts.ConnectTimeout)
	}
	return c
}

func newClient(tlsCfg *tls.Config, connectTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	// Redirects are followed transparently; the final status is reported.
	return &http.Client{Transport: transport}
}

func loadCABundle(path string) *x509.CertPool {
	pem, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[checker] CA bundle %s unreadable, falling back to system roots: %v", path, err)
		return nil
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		log.Printf("[checker] CA bundle %s has no usable certificates, falling back to system roots", path)
		return nil
	}
	return pool
}

// Probe executes one probe of url with a total budget derived from timeoutS.
// It always encodes failures in the Result; the returned error is non-nil
// only when ctx was cancelled before the probe completed, in which case no
// result must be recorded.
func (c *Checker) Probe(ctx context.Context, rawURL string, timeoutS int) (Result, error) {
	if timeoutS < 1 {
		timeoutS = 1
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return Result{OK: false, ErrorText: "Client error: unsupported URL scheme"}, nil
	}

	// Timeout split: connect portion capped by the total budget, read portion
	// at least one second. The attempt budget is their sum.
	total := time.Duration(timeoutS) * time.Second
	connect := c.opts.ConnectTimeout
	if connect > total {
		connect = total
	}
	read := total - connect
	if read < time.Second {
		read = time.Second
	}
	budget := connect + read

	var last Result
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		res, err := c.attempt(ctx, rawURL, budget)
		if err != nil {
			return Result{}, err
		}
		last = res

		if res.OK {
			return res, nil
		}
		// 4xx is a hard failure: no retry budget is spent on it.
		if res.StatusCode != nil && *res.StatusCode >= 400 && *res.StatusCode < 500 {
			return res, nil
		}
		if attempt == c.opts.MaxAttempts {
			break
		}

		backoff := c.opts.BaseBackoff << (attempt - 1)
		if c.opts.Jitter > 0 {
			backoff += time.Duration(rand.Int64N(int64(c.opts.Jitter) + 1))
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return Result{}, err
		}
	}
	return last, nil
}

// attempt performs one HTTP request under a slot permit. The latency clock
// starts at slot acquisition.
func (c *Checker) attempt(ctx context.Context, rawURL string, budget time.Duration) (Result, error) {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer c.slots.Release(1)

	start := time.Now()
	attemptCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var timings phaseTimings
	resp, err := c.do(attemptCtx, &timings, rawURL, c.client)

	if err != nil {
		kind, text := classifyErr(err)
		// One insecure re-issue on TLS verification failure, inside the same
		// attempt. Its outcome feeds back into normal classification.
		if kind == errSSL && c.insecure != nil {
			resp, err = c.do(attemptCtx, &timings, rawURL, c.insecure)
			if err != nil {
				// Keep reporting the original verification failure.
				return c.failure(ctx, start, &timings, "SSL error")
			}
			return c.fromResponse(start, &timings, resp), nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return c.failure(ctx, start, &timings, text)
	}
	return c.fromResponse(start, &timings, resp), nil
}

func (c *Checker) do(ctx context.Context, timings *phaseTimings, rawURL string, client *http.Client) (*http.Response, error) {
	req, err := http.NewRequestWithContext(timings.withTrace(ctx), http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	// Status is known once headers arrive; the body is not part of the probe.
	resp.Body.Close()
	return resp, nil
}

func (c *Checker) fromResponse(start time.Time, timings *phaseTimings, resp *http.Response) Result {
	status := resp.StatusCode
	res := Result{
		OK:         status >= 200 && status < 400,
		StatusCode: &status,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	res.DNSMs = timings.dnsMs()
	res.ConnectMs = timings.connectMs()
	res.TLSMs = timings.tlsMs()
	res.TTFBMs = timings.ttfbMs()
	return res
}

func (c *Checker) failure(ctx context.Context, start time.Time, timings *phaseTimings, text string) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	res := Result{
		OK:        false,
		LatencyMs: time.Since(start).Milliseconds(),
		ErrorText: text,
	}
	res.DNSMs = timings.dnsMs()
	res.ConnectMs = timings.connectMs()
	res.TLSMs = timings.tlsMs()
	res.TTFBMs = timings.ttfbMs()
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
