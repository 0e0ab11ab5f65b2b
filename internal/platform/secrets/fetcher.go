// Package secrets resolves secret:// references against Google Secret
// Manager. The API keeps its Stripe keys, webhook secret and internal job
// token behind such references so config files never carry live credentials.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
	meterScope          = "github.com/RelayDigital/vrem-sub004/internal/platform/secrets"
)

// Swapped out in tests to simulate a machine without credentials.
var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// accessClient is the slice of the Secret Manager client the fetcher needs.
type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references with an in-process cache, per-secret
// version pins and a local fallback file for development machines without
// Secret Manager access.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string
	versionPins    map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu       sync.RWMutex
	cache    map[string]cachedSecret
	watchers map[string][]chan struct{}

	metrics fetchMetrics
}

type cachedSecret struct {
	value     string
	canonical string
	version   string
	fetchedAt time.Time
	source    string
}

type fetchMetrics struct {
	latency   metric.Float64Histogram
	latencyOK bool
	hits      metric.Int64Counter
	hitsOK    bool
}

type fetcherConfig struct {
	logger         *zap.Logger
	env            string
	defaultProject string
	projectByEnv   map[string]string
	fallbackPath   string
	client         accessClient
	clientOpts     []option.ClientOption
	versionPins    map[string]string
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) { cfg.logger = logger }
}

// WithEnvironment names the deployment environment used to pick per-env
// project ids and version pins.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) { cfg.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project queried when no per-env mapping or
// reference override names one.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) { cfg.defaultProject = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies per-environment Secret Manager project ids.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.projectByEnv = copyStringMap(m) }
}

// WithFallbackFile points at the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithSecretManagerClient injects a prebuilt client, primarily for tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(cfg *fetcherConfig) { cfg.client = client }
}

// WithClientOptions forwards Cloud client options to the default client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// WithVersionPins pins secrets to explicit versions, keyed by canonical
// reference or "env:reference" for per-environment pins.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) { cfg.versionPins = copyStringMap(pins) }
}

// NewFetcher builds a Fetcher. When no client is injected and the default
// client cannot be constructed (no credentials), the fetcher still works in
// fallback-file-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
		projectByEnv: map[string]string{},
		versionPins:  map[string]string{},
	}
	if cfg.env == "" {
		cfg.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	f := &Fetcher{
		logger:         cfg.logger,
		env:            cfg.env,
		defaultProject: cfg.defaultProject,
		projectByEnv:   copyStringMap(cfg.projectByEnv),
		versionPins:    copyStringMap(cfg.versionPins),
		fallbackPath:   cfg.fallbackPath,
		cache:          make(map[string]cachedSecret),
		watchers:       make(map[string][]chan struct{}),
		metrics:        newFetchMetrics(cfg.logger),
	}

	if cfg.client != nil {
		f.client = cfg.client
	} else if client, err := secretManagerClientFactory(ctx, cfg.clientOpts...); err != nil {
		cfg.logger.Warn("secrets: secret manager client unavailable, using fallback file only", zap.Error(err))
	} else {
		f.client = client
		f.ownsClient = true
	}

	return f, nil
}

func newFetchMetrics(logger *zap.Logger) fetchMetrics {
	meter := otel.GetMeterProvider().Meter(meterScope)

	var m fetchMetrics
	var err error
	m.latency, err = meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret fetch attempts"),
	)
	m.latencyOK = err == nil
	if err != nil {
		logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	}

	m.hits, err = meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Cache hits while resolving secrets"),
	)
	m.hitsOK = err == nil
	if err != nil {
		logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	}
	return m
}

// Close drops all watcher channels and, when the fetcher built its own
// client, closes it.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	for canonical, chans := range f.watchers {
		delete(f.watchers, canonical)
		for _, ch := range chans {
			close(ch)
		}
	}
	f.mu.Unlock()

	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value behind a secret:// reference. Values are
// cached per version; access failures that look like missing credentials or
// an unreachable service fall back to the local file, while NotFound does
// not, so a typoed secret name fails loudly.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	version := f.pinnedVersion(parsed)
	key := cacheKey(parsed.Canonical, version)

	if value, ok := f.cachedValue(key); ok {
		f.metrics.recordHit(ctx, parsed.Canonical)
		f.metrics.recordLatency(ctx, time.Since(start), "cache", nil)
		return value, nil
	}

	projectID := f.projectFor(parsed)
	remoteUsable := projectID != "" && f.client != nil

	if remoteUsable {
		value, fetchErr := f.accessRemote(ctx, projectID, parsed.Name, version)
		if fetchErr == nil {
			f.store(key, value, parsed.Canonical, version, "remote")
			f.metrics.recordLatency(ctx, time.Since(start), "remote", nil)
			return value, nil
		}
		if !shouldFallback(fetchErr) {
			f.metrics.recordLatency(ctx, time.Since(start), "error", fetchErr)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("ref", parsed.Canonical), zap.Error(fetchErr))
	}

	value, ok := f.fallbackValue(parsed, version)
	if !ok {
		err := fmt.Errorf("secrets: fallback value not found for %s", parsed.Canonical)
		f.metrics.recordLatency(ctx, time.Since(start), "error", err)
		return "", err
	}
	f.store(key, value, parsed.Canonical, version, "fallback")
	f.metrics.recordLatency(ctx, time.Since(start), "fallback", nil)
	return value, nil
}

// Invalidate drops every cached version of the reference and wakes the
// subscribers, typically after a rotation event.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseRef(ref)
	if err != nil {
		return
	}

	f.mu.Lock()
	for key, entry := range f.cache {
		if entry.canonical == parsed.Canonical {
			delete(f.cache, key)
		}
	}
	chans := append([]chan struct{}(nil), f.watchers[parsed.Canonical]...)
	f.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that receives a tick whenever the reference is
// invalidated, plus a cancel func that detaches the watcher.
func (f *Fetcher) Subscribe(ref string) (<-chan struct{}, func()) {
	parsed, err := parseRef(ref)
	if err != nil {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.watchers[parsed.Canonical] = append(f.watchers[parsed.Canonical], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		chans := f.watchers[parsed.Canonical]
		for i, watcher := range chans {
			if watcher == ch {
				chans = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(chans) == 0 {
			delete(f.watchers, parsed.Canonical)
		} else {
			f.watchers[parsed.Canonical] = chans
		}
	}
	return ch, cancel
}

func (f *Fetcher) cachedValue(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) store(key, value, canonical, version, source string) {
	f.mu.Lock()
	f.cache[key] = cachedSecret{
		value:     value,
		canonical: canonical,
		version:   version,
		fetchedAt: time.Now(),
		source:    source,
	}
	f.mu.Unlock()
}

func (f *Fetcher) accessRemote(ctx context.Context, projectID, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) projectFor(ref secretRef) string {
	if ref.Project != "" {
		return ref.Project
	}
	if id := strings.TrimSpace(f.projectByEnv[f.env]); id != "" {
		return id
	}
	return strings.TrimSpace(f.defaultProject)
}

func (f *Fetcher) pinnedVersion(ref secretRef) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.Canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.Canonical]); pin != "" {
		return pin
	}
	return defaultVersion
}

func (f *Fetcher) fallbackValue(ref secretRef, version string) (string, bool) {
	f.loadFallback()
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unusable", zap.Error(f.fallbackErr))
		return "", false
	}
	if val, ok := f.fallbackVals[cacheKey(ref.Canonical, version)]; ok {
		return val, true
	}
	val, ok := f.fallbackVals[ref.Canonical]
	return val, ok
}

func normalizeFallbackKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

// loadFallback parses the fallback file once. Lines are "ref=value"; both
// secret:// and the legacy sm:// prefix are accepted, # starts a comment.
func (f *Fetcher) loadFallback() {
	f.fallbackOnce.Do(func() {
		f.fallbackVals = map[string]string{}

		path := strings.TrimSpace(f.fallbackPath)
		if path == "" {
			return
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}

		file, err := os.Open(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.fallbackErr = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
			}
			return
		}
		defer file.Close()

		values := make(map[string]string)
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			rawKey, rawValue, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			key := normalizeFallbackKey(rawKey)
			value := strings.TrimSpace(rawValue)
			if key == "" {
				continue
			}
			if parsed, err := parseRef(key); err == nil {
				version := parsed.Version
				if version == "" {
					version = defaultVersion
				}
				values[parsed.Canonical] = value
				values[cacheKey(parsed.Canonical, version)] = value
			} else {
				values[key] = value
			}
		}
		if err := scanner.Err(); err != nil {
			f.fallbackErr = fmt.Errorf("secrets: failed reading %s: %w", path, err)
			return
		}
		f.fallbackVals = values
	})
}

func (m fetchMetrics) recordLatency(ctx context.Context, d time.Duration, source string, err error) {
	if !m.latencyOK {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	m.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (m fetchMetrics) recordHit(ctx context.Context, canonical string) {
	if !m.hitsOK {
		return
	}
	// Only a digest of the reference reaches the metric backend.
	m.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", refDigest(canonical))))
}

// secretRef is a parsed secret://name?version=N&project=P reference.
type secretRef struct {
	Raw       string
	Canonical string
	Name      string
	Version   string
	Project   string
}

func parseRef(ref string) (secretRef, error) {
	if strings.TrimSpace(ref) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return secretRef{
		Raw:       ref,
		Canonical: canonical.String(),
		Name:      name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

func copyStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func refDigest(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:8])
}

// shouldFallback reports whether the access failure means "Secret Manager
// unusable here" rather than "this secret does not exist".
func shouldFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
