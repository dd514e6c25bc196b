// Package storage resolves dataset and submission file references. A ref is
// either a local path or an http(s)/ftp URL; remote refs are downloaded to a
// temp file for the duration of the caller's work.
package storage

import (
	"context"
	"net/url"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures the Resolver.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// TempDir is where remote refs are downloaded. Empty means os.TempDir.
	TempDir string
	// RateLimit caps outbound download requests per second.
	RateLimit rate.Limit
	Burst     int
}

// Resolver turns refs into readable local paths.
type Resolver struct {
	opts    Options
	http    *httpDownloader
	ftp     *ftpDownloader
	limiter *rate.Limiter
}

// NewResolver creates a Resolver with the given options.
func NewResolver(opts Options) *Resolver {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mlboard/1.0"
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 20
	}
	if opts.Burst == 0 {
		opts.Burst = 20
	}
	limiter := rate.NewLimiter(opts.RateLimit, opts.Burst)
	return &Resolver{
		opts:    opts,
		http:    newHTTPDownloader(opts, limiter),
		ftp:     newFTPDownloader(opts),
		limiter: limiter,
	}
}

// Resolve returns a local path for ref plus a cleanup func. For local refs
// cleanup is a no-op; for remote refs it removes the downloaded temp file.
// Callers must invoke cleanup even when they fail partway.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}
	if ref == "" {
		return "", noop, eris.New("storage: empty ref")
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		path := ref
		if u != nil && u.Scheme == "file" {
			path = u.Path
		}
		if _, err := os.Stat(path); err != nil {
			return "", noop, eris.Wrapf(err, "storage: local ref %s", path)
		}
		return path, noop, nil
	}

	switch u.Scheme {
	case "http", "https":
		return r.download(ctx, ref, r.http.downloadToFile)
	case "ftp":
		return r.download(ctx, ref, r.ftp.downloadToFile)
	default:
		return "", noop, eris.Errorf("storage: unsupported ref scheme %q", u.Scheme)
	}
}

func (r *Resolver) download(ctx context.Context, ref string, fetch func(ctx context.Context, ref, dest string) (int64, error)) (string, func(), error) {
	noop := func() {}
	tmp, err := os.CreateTemp(r.opts.TempDir, "mlboard-ref-*")
	if err != nil {
		return "", noop, eris.Wrap(err, "storage: create temp file")
	}
	path := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", noop, eris.Wrap(err, "storage: close temp file")
	}

	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("storage: failed to remove temp file",
				zap.String("path", path),
				zap.Error(err),
			)
		}
	}

	n, err := fetch(ctx, ref, path)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	zap.L().Debug("storage: downloaded ref",
		zap.String("ref", ref),
		zap.Int64("bytes", n),
	)
	return path, cleanup, nil
}
