// Package cachestorage is the named-bucket cache API used by the worker:
// open a bucket, fill it from a manifest, and match requests against all
// buckets.
package cachestorage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/datastore/repository"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/network"
)

// ErrFetchFailed is returned by AddAll when a manifest entry could not be
// fetched or answered with a non-2xx status.
var ErrFetchFailed = errors.NewStd("request failed")

// Storage gives access to every cache bucket.
type Storage struct {
	repo repository.CacheRepository
	log  logger.Logger
}

// New creates a Storage on top of repo.
func New(repo repository.CacheRepository, log logger.Logger) *Storage {
	return &Storage{repo: repo, log: log.Module("cachestorage")}
}

// Open returns the named bucket, creating it when missing.
func (s *Storage) Open(ctx context.Context, name string) (*Cache, error) {
	if _, err := s.repo.EnsureBucket(ctx, name); err != nil {
		return nil, cacheError(err, "open", name)
	}
	return &Cache{name: name, storage: s}, nil
}

// Keys lists bucket names in creation order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	buckets, err := s.repo.ListBuckets(ctx)
	if err != nil {
		return nil, cacheError(err, "list", "")
	}
	names := make([]string, 0, len(buckets))
	for i := range buckets {
		names = append(names, buckets[i].Name)
	}
	return names, nil
}

// Has reports whether a bucket exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.repo.HasBucket(ctx, name)
	if err != nil {
		return false, cacheError(err, "has", name)
	}
	return ok, nil
}

// Delete removes a bucket and reports whether it existed.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	deleted, err := s.repo.DeleteBucket(ctx, name)
	if err != nil {
		return false, cacheError(err, "delete", name)
	}
	return deleted, nil
}

// Match looks the request up across all buckets, oldest bucket first.
// Only GET requests can match. A miss returns (nil, false, nil).
func (s *Storage) Match(ctx context.Context, method, url string) (*entities.StoredResponse, bool, error) {
	return s.match(ctx, "", method, url)
}

// Stats summarizes every bucket.
func (s *Storage) Stats(ctx context.Context) ([]entities.BucketStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, cacheError(err, "stats", "")
	}
	return stats, nil
}

func (s *Storage) match(ctx context.Context, bucket, method, url string) (*entities.StoredResponse, bool, error) {
	if method != http.MethodGet {
		return nil, false, nil
	}
	resp, err := s.repo.MatchResponse(ctx, bucket, method, url)
	if errors.Is(err, repository.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cacheError(err, "match", bucket)
	}
	return resp, true, nil
}

// Cache is one open bucket.
type Cache struct {
	name    string
	storage *Storage
}

// Name returns the bucket name.
func (c *Cache) Name() string {
	return c.name
}

// AddAll fetches every URL and stores the responses. Fetches run
// concurrently; if any fails nothing is stored. It returns the number of
// body bytes stored.
func (c *Cache) AddAll(ctx context.Context, f network.Fetcher, urls []string) (int64, error) {
	responses := make([]entities.StoredResponse, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		g.Go(func() error {
			resp, err := fetchForCache(gctx, f, url)
			if err != nil {
				return err
			}
			responses[i] = *resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := c.storage.repo.PutResponses(ctx, c.name, responses); err != nil {
		return 0, cacheError(err, "add_all", c.name)
	}

	var total int64
	for i := range responses {
		total += int64(len(responses[i].Body))
	}
	c.storage.log.Debug("bucket filled",
		logger.String("bucket", c.name),
		logger.Int("entries", len(responses)),
		logger.Int64("bytes", total))
	return total, nil
}

// Put stores resp under GET url. The response body is consumed and closed.
func (c *Cache) Put(ctx context.Context, url string, resp *http.Response) error {
	stored, err := readResponse(http.MethodGet, url, resp)
	if err != nil {
		return err
	}
	if err := c.storage.repo.PutResponses(ctx, c.name, []entities.StoredResponse{*stored}); err != nil {
		return cacheError(err, "put", c.name)
	}
	return nil
}

// Match looks the request up in this bucket only.
func (c *Cache) Match(ctx context.Context, method, url string) (*entities.StoredResponse, bool, error) {
	return c.storage.match(ctx, c.name, method, url)
}

// Keys lists the requests stored in this bucket.
func (c *Cache) Keys(ctx context.Context) ([]repository.RequestKey, error) {
	keys, err := c.storage.repo.ListKeys(ctx, c.name)
	if err != nil {
		return nil, cacheError(err, "keys", c.name)
	}
	return keys, nil
}

// Delete removes one stored request.
func (c *Cache) Delete(ctx context.Context, method, url string) (bool, error) {
	deleted, err := c.storage.repo.DeleteResponse(ctx, c.name, method, url)
	if err != nil {
		return false, cacheError(err, "delete_entry", c.name)
	}
	return deleted, nil
}

func fetchForCache(ctx context.Context, f network.Fetcher, url string) (*entities.StoredResponse, error) {
	resp, err := network.Get(ctx, f, url)
	if err != nil {
		return nil, errors.New(fmt.Errorf("%w: %s: %w", ErrFetchFailed, url, err)).
			Component("cachestorage").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	if !network.IsSuccess(resp.StatusCode) {
		_ = resp.Body.Close()
		return nil, errors.New(fmt.Errorf("%w: %s: status %d", ErrFetchFailed, url, resp.StatusCode)).
			Component("cachestorage").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Context("status", resp.StatusCode).
			Build()
	}
	return readResponse(http.MethodGet, url, resp)
}

func readResponse(method, url string, resp *http.Response) (*entities.StoredResponse, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(fmt.Errorf("read body of %s: %w", url, err)).
			Component("cachestorage").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	network.StripHopHeaders(header)
	header.Del("Content-Length")
	return &entities.StoredResponse{
		Method:     method,
		URL:        url,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     header,
		Body:       body,
	}, nil
}

// WriteResponse writes a stored response to w as-is.
func WriteResponse(w http.ResponseWriter, r *entities.StoredResponse) error {
	h := w.Header()
	for k, v := range r.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}

func cacheError(err error, op, bucket string) error {
	b := errors.New(err).
		Component("cachestorage").
		Category(errors.CategoryCache).
		Context("operation", op)
	if bucket != "" {
		b = b.Context("bucket", bucket)
	}
	return b.Build()
}
