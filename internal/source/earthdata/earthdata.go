// Package earthdata adapts NASA's Common Metadata Repository (CMR)
// granule search and Earthdata Login downloads to the
// source.DataSource capability, used for MODIS aerosol products.
package earthdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/source"
	"github.com/couchcryptid/atmos-regrid/internal/store"
)

const (
	defaultSearchURL = "https://cmr.earthdata.nasa.gov/search/granules.json"
	defaultPageSize  = 200
)

// Options configure the MODIS source.
type Options struct {
	Username  string
	Password  string
	SearchURL string        // override for tests
	Timeout   time.Duration // catalog request timeout
	VarName   string        // granule variable to decode; default "aod"
	Logger    *slog.Logger
}

// Source discovers MODIS granules through CMR and downloads them with
// Earthdata Login basic auth. Near-real-time granules are excluded:
// they are superseded by the standard product within days and would
// poison composites with lower-quality retrievals.
type Source struct {
	searchURL string
	username  string
	password  string
	varName   string
	httpCfg   source.HTTPConfig
	breaker   *gobreaker.CircuitBreaker
	client    *http.Client
	logger    *slog.Logger
}

// New creates a MODIS source.
func New(opts Options) *Source {
	searchURL := opts.SearchURL
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	varName := opts.VarName
	if varName == "" {
		varName = "aod"
	}

	// Earthdata Login bounces downloads through the URS authorization
	// host and back; the session cookie set along the way is what lets
	// the redirected request through, so the download client needs a jar.
	jar, _ := cookiejar.New(nil)

	return &Source{
		searchURL: searchURL,
		username:  opts.Username,
		password:  opts.Password,
		varName:   varName,
		httpCfg: source.HTTPConfig{
			Client: &http.Client{Timeout: timeout},
			Backoff: source.Backoff{
				MaxRetries:      2,
				InitialInterval: time.Second,
				MaxInterval:     10 * time.Second,
			},
		},
		breaker: source.NewBreaker("earthdata-cmr"),
		client:  &http.Client{Jar: jar},
		logger:  logger,
	}
}

func (s *Source) Name() string { return "modis" }

type cmrEntry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	TimeStart   string `json:"time_start"`
	GranuleSize string `json:"granule_size"` // megabytes, decimal string
	Links       []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// Discover pages through CMR granule search results. Partial-page
// failure semantics match the other providers: results found before
// the failure are returned with a nil error.
func (s *Source) Discover(ctx context.Context, q source.Query) ([]domain.Product, error) {
	pageSize := defaultPageSize
	if q.Limit > 0 && q.Limit < pageSize {
		pageSize = q.Limit
	}

	var products []domain.Product
	for page := 1; ; page++ {
		entries, err := s.fetchPage(ctx, q, pageSize, page)
		if err != nil {
			if len(products) > 0 {
				s.logger.Warn("granule search page failed, returning partial results",
					"found", len(products), "error", err)
				return products, nil
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
		}
		if len(entries) == 0 {
			break
		}

		for _, e := range entries {
			p, ok := s.toProduct(e)
			if !ok {
				continue
			}
			products = append(products, p)
			if q.Limit > 0 && len(products) >= q.Limit {
				return products, nil
			}
		}
		if len(entries) < pageSize {
			break
		}
	}
	return products, nil
}

func (s *Source) fetchPage(ctx context.Context, q source.Query, pageSize, page int) ([]cmrEntry, error) {
	resp, err := source.Do(ctx, s.httpCfg, s.breaker, func() (*http.Request, error) {
		params := url.Values{
			"short_name": {q.ProductType},
			"temporal": {fmt.Sprintf("%sT00:00:00Z,%sT23:59:59Z",
				q.Start.UTC().Format("2006-01-02"), q.End.UTC().Format("2006-01-02"))},
			"bounding_box": {fmt.Sprintf("%g,%g,%g,%g",
				q.Boundary.MinLon, q.Boundary.MinLat, q.Boundary.MaxLon, q.Boundary.MaxLat)},
			"sort_key":  {"-start_date"},
			"page_size": {strconv.Itoa(pageSize)},
			"page_num":  {strconv.Itoa(page)},
		}
		return http.NewRequest(http.MethodGet, s.searchURL+"?"+params.Encode(), nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Feed struct {
			Entry []cmrEntry `json:"entry"`
		} `json:"feed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode granule search page: %w", err)
	}
	return body.Feed.Entry, nil
}

// toProduct converts a CMR entry, dropping NRT granules and entries
// without a data link.
func (s *Source) toProduct(e cmrEntry) (domain.Product, bool) {
	href := dataLink(e)
	if href == "" {
		return domain.Product{}, false
	}
	name := path.Base(href)
	if strings.Contains(name, ".NRT.") {
		return domain.Product{}, false
	}

	acquired, err := time.Parse(time.RFC3339, e.TimeStart)
	if err != nil {
		s.logger.Warn("skipping granule with unparseable start time", "title", e.Title, "error", err)
		return domain.Product{}, false
	}

	var size int64
	if mb, err := strconv.ParseFloat(e.GranuleSize, 64); err == nil {
		size = int64(mb * 1024 * 1024)
	}

	return domain.Product{
		ID:         e.ID,
		Name:       name,
		AcquiredAt: acquired.UTC(),
		Size:       size,
		RemoteURI:  href,
		Status:     domain.StatusPending,
	}, true
}

func dataLink(e cmrEntry) string {
	for _, l := range e.Links {
		if strings.HasSuffix(l.Rel, "/data#") && l.Href != "" {
			return l.Href
		}
	}
	return ""
}

// Fetch streams one granule into w using Earthdata Login basic auth.
func (s *Source) Fetch(ctx context.Context, p domain.Product, w *os.File) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.RemoteURI, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download returned %d", resp.StatusCode)
	}
	return io.Copy(w, resp.Body)
}

// Read decodes a local granule file.
func (s *Source) Read(path string) (domain.Granule, error) {
	return store.ReadGranule(path, s.varName)
}
