package adapters

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"packstash/internal/ports"
	"packstash/internal/types"
)

// TLSOptions configures transport security for private registries,
// including a mutual-TLS client certificate. All fields are optional.
type TLSOptions struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// HTTPFetchAdapter retrieves artifacts over HTTPS, streaming them through
// integrity verification into the cache. It fetches exactly the URL the
// resolver declared: no mirror fallback, ever, because the component
// report must describe precisely where every byte came from.
//
// Transient failures (connection errors, timeouts, 5xx, 429) are retried
// with bounded exponential backoff. Permanent failures (other 4xx, TLS and
// auth errors) and integrity mismatches surface immediately.
type HTTPFetchAdapter struct {
	Cache      ports.CachePort
	Client     *http.Client
	MaxRetries uint64
}

const defaultFetchTimeout = 5 * time.Minute
const defaultFetchRetries = 3

func NewHTTPFetchAdapter(cache ports.CachePort, tlsOpts TLSOptions, timeout time.Duration, maxRetries int) (*HTTPFetchAdapter, error) {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if maxRetries <= 0 {
		maxRetries = defaultFetchRetries
	}
	tlsConfig, err := buildTLSConfig(tlsOpts)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &HTTPFetchAdapter{
		Cache:      cache,
		Client:     &http.Client{Timeout: timeout, Transport: transport},
		MaxRetries: uint64(maxRetries),
	}, nil
}

func (a *HTTPFetchAdapter) Fetch(ctx context.Context, req ports.FetchRequest) (types.CacheEntry, error) {
	if strings.TrimSpace(req.URL) == "" {
		return types.CacheEntry{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("fetch request has no URL")
	}

	// Already cached content needs no network round trip.
	if len(req.Expected) > 0 {
		key := a.cacheKey(req)
		if a.Cache.Has(key) {
			path, err := a.Cache.Path(key)
			if err != nil {
				return types.CacheEntry{}, err
			}
			info, err := os.Stat(path)
			if err != nil {
				return types.CacheEntry{}, errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("cache entry vanished").
					WithCause(err)
			}
			log.Ctx(ctx).Debug().Str("url", req.URL).Msg("cache hit, skipping fetch")
			return types.CacheEntry{Key: key, Path: path, Size: info.Size()}, nil
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.MaxRetries), ctx)
	entry, err := backoff.RetryWithData(func() (types.CacheEntry, error) {
		entry, err := a.fetchOnce(ctx, req)
		if err != nil && !isTransient(err) {
			return types.CacheEntry{}, backoff.Permanent(err)
		}
		return entry, err
	}, policy)
	if err != nil {
		return types.CacheEntry{}, err
	}
	return entry, nil
}

func (a *HTTPFetchAdapter) fetchOnce(ctx context.Context, req ports.FetchRequest) (types.CacheEntry, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return types.CacheEntry{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to build fetch request").
			WithCause(err)
	}
	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return types.CacheEntry{}, &types.FetchError{URL: req.URL, Transient: !isCertError(err), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to the verified cache write below
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return types.CacheEntry{}, &types.FetchError{URL: req.URL, Status: resp.StatusCode, Transient: true}
	default:
		return types.CacheEntry{}, &types.FetchError{URL: req.URL, Status: resp.StatusCode, Transient: false}
	}

	if len(req.Expected) == 0 {
		if req.Trust != types.TrustPolicyFirstUse {
			return types.CacheEntry{}, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("no declared digest for " + req.URL + " and trust-on-first-use not enabled")
		}
		return a.Cache.PutComputed(req.Ecosystem, req.Identity, req.Filename, resp.Body, req.Check)
	}
	return a.Cache.Put(a.cacheKey(req), resp.Body, req.Expected, req.Check)
}

func (a *HTTPFetchAdapter) cacheKey(req ports.FetchRequest) types.CacheKey {
	return types.CacheKey{
		Ecosystem: req.Ecosystem,
		Identity:  req.Identity,
		Digest:    types.StrongestDigest(req.Expected),
		Filename:  req.Filename,
	}
}

func isTransient(err error) bool {
	var fetchErr *types.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Transient
	}
	// Integrity mismatches and everything else are never retried: a
	// different digest means different content, not a flaky network.
	return false
}

func isCertError(err error) bool {
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	return errors.As(err, &certErr) || errors.As(err, &unknownAuthority)
}

func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	config := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.CertFile != "" || opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to load client certificate").
				WithCause(err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read CA bundle").
				WithCause(err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("CA bundle contains no certificates")
		}
		config.RootCAs = pool
	}
	return config, nil
}
