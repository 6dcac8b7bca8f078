// Package router answers intercepted requests. Routes are checked in a
// fixed order and the first match answers; the last route is the
// cache-first fallback, so every request gets exactly one response.
package router

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/diitku/diitku-offline/internal/cachestorage"
	"github.com/diitku/diitku-offline/internal/datastore/entities"
	"github.com/diitku/diitku-offline/internal/errors"
	"github.com/diitku/diitku-offline/internal/logger"
	"github.com/diitku/diitku-offline/internal/network"
	"github.com/diitku/diitku-offline/internal/observability/metrics"
)

// URL markers matched as substrings of the absolute request URL.
const (
	MarkerShare       = "/share"
	MarkerHandleFile  = "/handle-file"
	MarkerWidgetData  = "/widget-data"
	MarkerWidgetGoals = "/widget-goals-data"
)

// Route names, used in logs and metrics.
const (
	RouteShare       = "share"
	RouteHandleFile  = "handle-file"
	RouteWidgetData  = "widget-data"
	RouteWidgetGoals = "widget-goals-data"
	RouteCacheFirst  = "cache-first"
)

// Matcher looks up stored responses across all buckets.
type Matcher interface {
	Match(ctx context.Context, method, url string) (*entities.StoredResponse, bool, error)
}

// Route pairs a predicate with the handler that answers matching requests.
type Route struct {
	Name    string
	Matches func(r *http.Request, absURL string) bool
	Handle  func(w http.ResponseWriter, r *http.Request, absURL string) error
}

// Config configures a Router.
type Config struct {
	Origin  string
	Cache   Matcher
	Fetcher network.Fetcher
	// GoalsWidget enables the goals widget route.
	GoalsWidget bool
	Metrics     *metrics.Metrics
	Log         logger.Logger
}

// Router dispatches requests over its routes.
type Router struct {
	origin  *url.URL
	cache   Matcher
	fetcher network.Fetcher
	metrics *metrics.Metrics
	log     logger.Logger
	routes  []Route
}

// New builds the route list.
func New(cfg Config) (*Router, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, errors.Newf("origin %q is not an absolute URL", cfg.Origin).
			Component("router").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := cfg.Log
	if log == nil {
		log = logger.Global()
	}
	r := &Router{
		origin:  origin,
		cache:   cfg.Cache,
		fetcher: cfg.Fetcher,
		metrics: cfg.Metrics,
		log:     log.Module("router"),
	}

	r.routes = []Route{
		{
			Name: RouteShare,
			Matches: func(req *http.Request, abs string) bool {
				return req.Method == http.MethodPost && strings.Contains(abs, MarkerShare)
			},
			Handle: handleShare,
		},
		{Name: RouteHandleFile, Matches: contains(MarkerHandleFile), Handle: handleFile},
		{Name: RouteWidgetData, Matches: contains(MarkerWidgetData), Handle: handleWidgetData},
	}
	if cfg.GoalsWidget {
		r.routes = append(r.routes, Route{Name: RouteWidgetGoals, Matches: contains(MarkerWidgetGoals), Handle: handleWidgetGoals})
	}
	r.routes = append(r.routes, Route{
		Name:    RouteCacheFirst,
		Matches: func(*http.Request, string) bool { return true },
		Handle:  r.cacheFirst,
	})
	return r, nil
}

func contains(marker string) func(*http.Request, string) bool {
	return func(_ *http.Request, abs string) bool {
		return strings.Contains(abs, marker)
	}
}

// Routes returns the route names in evaluation order.
func (r *Router) Routes() []string {
	names := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		names = append(names, rt.Name)
	}
	return names
}

// ServeFetch answers req with the first matching route.
func (r *Router) ServeFetch(w http.ResponseWriter, req *http.Request) error {
	abs := r.AbsoluteURL(req)
	for _, rt := range r.routes {
		if !rt.Matches(req, abs) {
			continue
		}
		r.metrics.RecordRoute(rt.Name)
		r.log.Debug("fetch dispatched",
			logger.String("route", rt.Name),
			logger.String("method", req.Method),
			logger.String("url", abs))
		return rt.Handle(w, req, abs)
	}
	// Unreachable: the fallback route matches everything.
	return nil
}

// PassThrough forwards req to the network without consulting the cache.
// It is used before the worker controls requests.
func (r *Router) PassThrough(w http.ResponseWriter, req *http.Request) error {
	return r.fromNetwork(w, req, r.AbsoluteURL(req))
}

// AbsoluteURL resolves the request against the origin. Absolute-form
// proxy requests are returned unchanged.
func (r *Router) AbsoluteURL(req *http.Request) string {
	if req.URL.IsAbs() {
		return req.URL.String()
	}
	ref := &url.URL{Path: req.URL.Path, RawPath: req.URL.RawPath, RawQuery: req.URL.RawQuery}
	return r.origin.ResolveReference(ref).String()
}

func (r *Router) cacheFirst(w http.ResponseWriter, req *http.Request, abs string) error {
	stored, ok, err := r.cache.Match(req.Context(), req.Method, abs)
	if err != nil {
		r.log.Warn("cache lookup failed, using network",
			logger.String("url", abs),
			logger.Error(err))
	}
	r.metrics.RecordCacheLookup(ok)
	if ok {
		return cachestorage.WriteResponse(w, stored)
	}
	return r.fromNetwork(w, req, abs)
}

// fromNetwork performs exactly one fetch and copies the response as-is.
// When the network fails it answers 502.
func (r *Router) fromNetwork(w http.ResponseWriter, req *http.Request, abs string) error {
	out, err := network.OutboundRequest(req.Context(), req, abs)
	if err != nil {
		return err
	}
	resp, err := r.fetcher.Fetch(req.Context(), out)
	r.metrics.RecordNetworkFetch(err)
	if err != nil {
		r.log.Warn("network fetch failed", logger.String("url", abs), logger.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	h := w.Header()
	for k, v := range resp.Header {
		h[k] = append([]string(nil), v...)
	}
	network.StripHopHeaders(h)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		r.log.Debug("response copy interrupted", logger.String("url", abs), logger.Error(err))
	}
	return nil
}
