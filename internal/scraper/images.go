// internal/scraper/images.go
package scraper

import (
	"context"
	stderrors "errors"
	"net/url"
	"path"
	"strings"

	"github.com/valpere/Importexter/internal/assets"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/monitoring"
	"github.com/valpere/Importexter/internal/utils"
)

// Reasons an image candidate is dropped.
const (
	ReasonNoSource = "no_source"
	ReasonTooSmall = "too_small"
	ReasonTracking = "tracking"
)

// placeholderNames are file names, without extension, that lazy loaders
// put in src until the real image is swapped in.
var placeholderNames = map[string]bool{
	"blank": true, "spacer": true, "transparent": true, "empty": true,
	"lazy": true, "lazyload": true, "lazy-load": true, "loading": true,
	"loader": true, "ajax-loader": true, "grey": true, "gray": true,
}

var trackingMarkers = []string{"pixel", "track", "beacon", "1x1"}

// ImageResolver turns image nodes into usable URLs.
type ImageResolver struct {
	store   assets.Store
	metrics *monitoring.MetricsManager
	logger  utils.Logger
}

// NewImageResolver creates a resolver. store may be nil, in which case
// upload is skipped and original URLs are kept.
func NewImageResolver(store assets.Store, metrics *monitoring.MetricsManager, logger utils.Logger) *ImageResolver {
	if logger == nil {
		logger = utils.NewComponentLogger("images")
	}
	return &ImageResolver{store: store, metrics: metrics, logger: logger}
}

// Resolve returns the final URL for candidate, or false when it has no
// usable source or is filtered out.
func (r *ImageResolver) Resolve(ctx context.Context, pageURL string, c ImageCandidate, cfg config.ImageFieldConfig) (string, bool) {
	raw := sourceOf(c, cfg.LazyAttributes)
	if raw == "" {
		r.metrics.RecordImageFiltered(ReasonNoSource)
		return "", false
	}

	resolved := utils.ResolveURL(pageURL, raw)
	if resolved == "" {
		r.metrics.RecordImageFiltered(ReasonNoSource)
		return "", false
	}

	if reason := filterReason(resolved, c, cfg); reason != "" {
		r.logger.Debugf("dropping image %s: %s", resolved, reason)
		r.metrics.RecordImageFiltered(reason)
		return "", false
	}

	if !cfg.Upload || r.store == nil {
		return resolved, true
	}
	return r.upload(ctx, resolved, cfg), true
}

// upload re-hosts url; any failure keeps the original.
func (r *ImageResolver) upload(ctx context.Context, url string, cfg config.ImageFieldConfig) string {
	asset, err := r.store.Upload(ctx, assets.UploadRequest{
		RemoteURL: url,
		Folder:    cfg.Folder,
		MaxBytes:  cfg.MaxSizeBytes(),
	})
	if err != nil {
		result := "failed"
		if stderrors.Is(err, assets.ErrTooLarge) {
			result = "rejected"
		}
		uerr := errors.Wrap(errors.KindImageUpload, err, "upload of %s failed", url)
		r.logger.Warnf("keeping original image URL: %v", uerr)
		r.metrics.RecordImageUpload(result)
		return url
	}
	r.metrics.RecordImageUpload("ok")
	return asset.URL
}

// sourceOf picks src, falling back to the lazy attributes in order.
func sourceOf(c ImageCandidate, lazy []string) string {
	if src := strings.TrimSpace(c.Src); usableSource(src) {
		return src
	}
	if len(lazy) == 0 {
		lazy = config.DefaultLazyAttributes
	}
	for _, attr := range lazy {
		v := strings.TrimSpace(c.Attrs[strings.ToLower(attr)])
		if strings.Contains(strings.ToLower(attr), "srcset") {
			v = firstSrcsetURL(v)
		}
		if usableSource(v) {
			return v
		}
	}
	return ""
}

func usableSource(src string) bool {
	if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
		return false
	}
	return !isPlaceholder(src)
}

// isPlaceholder looks at the file name only; words like "lazy" elsewhere
// in the path belong to real images too.
func isPlaceholder(src string) bool {
	p := src
	if u, err := url.Parse(src); err == nil {
		p = u.Path
	}
	name := strings.ToLower(path.Base(p))
	name = strings.TrimSuffix(name, path.Ext(name))
	return placeholderNames[name] || strings.Contains(name, "placeholder")
}

// firstSrcsetURL returns the URL of the first srcset entry.
func firstSrcsetURL(srcset string) string {
	first := strings.TrimSpace(strings.SplitN(srcset, ",", 2)[0])
	if fields := strings.Fields(first); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func filterReason(url string, c ImageCandidate, cfg config.ImageFieldConfig) string {
	if cfg.MinImageSize > 0 {
		if (c.Width > 0 && c.Width < cfg.MinImageSize) || (c.Height > 0 && c.Height < cfg.MinImageSize) {
			return ReasonTooSmall
		}
	}
	if cfg.SkipTrackingImages && isTrackingImage(url, c) {
		return ReasonTracking
	}
	return ""
}

func isTrackingImage(url string, c ImageCandidate) bool {
	if c.Width == 1 && c.Height == 1 {
		return true
	}
	lower := strings.ToLower(url)
	for _, m := range trackingMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
