package worker

import (
	"net/url"
	"slices"
	"strings"

	"github.com/diitku/diitku-offline/internal/conf"
	"github.com/diitku/diitku-offline/internal/errors"
)

// Bucket names per version.
const (
	BucketV1        = "diitku-v1"
	BucketStaticV2  = "diitku-static-v2"
	BucketDynamicV2 = "diitku-dynamic-v2"
	BucketAPIV2     = "diitku-api-v2"
)

// staticManifest is precached on install. Relative entries resolve
// against the application origin.
var staticManifest = []string{
	"./",
	"./index.html",
	"./manifest.json",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0-alpha1/dist/css/bootstrap.min.css",
	"https://cdn.jsdelivr.net/npm/bootstrap-icons@1.8.1/font/bootstrap-icons.css",
	"https://cdn.jsdelivr.net/npm/chart.js",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0-alpha1/dist/js/bootstrap.bundle.min.js",
}

// Profile describes what one worker version does.
type Profile struct {
	Version string
	// StaticBucket receives the manifest on install.
	StaticBucket string
	// CurrentBuckets survive activation; everything else is deleted.
	CurrentBuckets []string
	Manifest       []string
	// SkipWaiting activates right after install even when older versions
	// still control clients.
	SkipWaiting bool
	GoalsWidget bool
	// Push enables push and notificationclick handling.
	Push bool
	Sync bool
}

// ProfileFor returns the profile of a version.
func ProfileFor(version string) (Profile, error) {
	switch version {
	case conf.VersionV1:
		return Profile{
			Version:        conf.VersionV1,
			StaticBucket:   BucketV1,
			CurrentBuckets: []string{BucketV1},
			Manifest:       slices.Clone(staticManifest),
		}, nil
	case conf.VersionV2:
		return Profile{
			Version:        conf.VersionV2,
			StaticBucket:   BucketStaticV2,
			CurrentBuckets: []string{BucketStaticV2, BucketDynamicV2, BucketAPIV2},
			Manifest:       slices.Clone(staticManifest),
			SkipWaiting:    true,
			GoalsWidget:    true,
			Push:           true,
			Sync:           true,
		}, nil
	default:
		return Profile{}, errors.Newf("unknown worker version %q", version).
			Component("worker").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// IsCurrent reports whether a bucket belongs to this version.
func (p Profile) IsCurrent(bucket string) bool {
	return slices.Contains(p.CurrentBuckets, bucket)
}

// ResolveManifest returns the manifest as absolute URLs.
func (p Profile) ResolveManifest(origin string) ([]string, error) {
	base, err := OriginURL(origin)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p.Manifest))
	for _, entry := range p.Manifest {
		ref, err := url.Parse(entry)
		if err != nil {
			return nil, errors.New(err).
				Component("worker").
				Category(errors.CategoryValidation).
				Context("entry", entry).
				Build()
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out, nil
}

// OriginURL parses origin as the base for relative URLs. The path always
// ends in a slash so "./x" stays under it.
func OriginURL(origin string) (*url.URL, error) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("origin %q is not an absolute URL", origin).
			Component("worker").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery, u.Fragment = "", ""
	return u, nil
}
