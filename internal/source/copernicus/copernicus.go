// Package copernicus adapts the Copernicus Data Space OData catalog
// (Sentinel-5P) to the source.DataSource capability.
package copernicus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/source"
	"github.com/couchcryptid/atmos-regrid/internal/store"
)

const (
	defaultBaseURL     = "https://catalogue.dataspace.copernicus.eu/odata/v1"
	defaultDownloadURL = "https://zipper.dataspace.copernicus.eu/odata/v1/Products"
	defaultPageSize    = 200
)

// Options configure the Sentinel-5P source. URL overrides exist for
// tests; zero values select the production endpoints.
type Options struct {
	Username    string
	Password    string
	BaseURL     string
	DownloadURL string
	TokenURL    string
	Timeout     time.Duration // catalog request timeout
	VarName     string        // granule variable to decode; default "no2"
	Logger      *slog.Logger
}

// Source discovers and fetches Sentinel-5P products via OData.
type Source struct {
	baseURL     string
	downloadURL string
	varName     string
	tokens      *tokenSource
	httpCfg     source.HTTPConfig
	breaker     *gobreaker.CircuitBreaker
	client      *http.Client
	logger      *slog.Logger
}

// New creates a Sentinel-5P source.
func New(opts Options) *Source {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	downloadURL := opts.DownloadURL
	if downloadURL == "" {
		downloadURL = defaultDownloadURL
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
		varName = "no2"
	}

	catalogClient := &http.Client{Timeout: timeout}
	// The download client carries no overall timeout: large granules
	// legitimately take minutes and the manager enforces the per-attempt
	// ceiling through the context.
	downloadClient := &http.Client{}

	return &Source{
		baseURL:     baseURL,
		downloadURL: downloadURL,
		varName:     varName,
		tokens:      newTokenSource(opts.Username, opts.Password, opts.TokenURL, catalogClient),
		httpCfg: source.HTTPConfig{
			Client: catalogClient,
			Backoff: source.Backoff{
				MaxRetries:      2,
				InitialInterval: time.Second,
				MaxInterval:     10 * time.Second,
			},
		},
		breaker: source.NewBreaker("copernicus-catalog"),
		client:  downloadClient,
		logger:  logger,
	}
}

func (s *Source) Name() string { return "s5p" }

type odataProduct struct {
	ID            string `json:"Id"`
	Name          string `json:"Name"`
	ContentLength int64  `json:"ContentLength"`
	ContentDate   struct {
		Start string `json:"Start"`
	} `json:"ContentDate"`
}

// Discover pages through the OData catalog, newest first, until the
// result set is exhausted or the limit is reached. A page failure after
// at least one successful page returns the partial result set with a
// nil error; a failure on the first page wraps ErrCatalogUnavailable.
func (s *Source) Discover(ctx context.Context, q source.Query) ([]domain.Product, error) {
	filter := fmt.Sprintf(
		"Collection/Name eq 'SENTINEL-5P' and contains(Name,'%s')"+
			" and ContentDate/Start gt %sT00:00:00.000Z"+
			" and ContentDate/Start lt %sT23:59:59.999Z"+
			" and OData.CSC.Intersects(area=geography'SRID=4326;%s')",
		q.ProductType,
		q.Start.UTC().Format("2006-01-02"),
		q.End.UTC().Format("2006-01-02"),
		boundaryWKT(q.Boundary),
	)

	pageSize := defaultPageSize
	if q.Limit > 0 && q.Limit < pageSize {
		pageSize = q.Limit
	}

	var products []domain.Product
	skip := 0
	for {
		page, err := s.fetchPage(ctx, filter, pageSize, skip)
		if err != nil {
			if len(products) > 0 {
				s.logger.Warn("catalog page failed, returning partial results",
					"found", len(products), "error", err)
				return products, nil
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
		}
		if len(page) == 0 {
			break
		}

		for _, op := range page {
			p, err := s.toProduct(op)
			if err != nil {
				s.logger.Warn("skipping malformed catalog entry", "name", op.Name, "error", err)
				continue
			}
			products = append(products, p)
		}
		if q.Limit > 0 && len(products) >= q.Limit {
			products = products[:q.Limit]
			break
		}
		skip += len(page)
	}
	return products, nil
}

func (s *Source) fetchPage(ctx context.Context, filter string, top, skip int) ([]odataProduct, error) {
	resp, err := source.Do(ctx, s.httpCfg, s.breaker, func() (*http.Request, error) {
		token, err := s.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		params := url.Values{
			"$filter":  {filter},
			"$orderby": {"ContentDate/Start desc"},
			"$top":     {strconv.Itoa(top)},
			"$skip":    {strconv.Itoa(skip)},
		}
		req, err := http.NewRequest(http.MethodGet, s.baseURL+"/Products?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Value []odataProduct `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode catalog page: %w", err)
	}
	return body.Value, nil
}

func (s *Source) toProduct(op odataProduct) (domain.Product, error) {
	acquired, err := parseContentDate(op.ContentDate.Start)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:         op.ID,
		Name:       op.Name,
		AcquiredAt: acquired,
		Size:       op.ContentLength,
		RemoteURI:  fmt.Sprintf("%s(%s)/$value", s.downloadURL, op.ID),
		Status:     domain.StatusPending,
	}, nil
}

// Fetch streams one product payload into w. Single attempt; the
// download manager owns retry and backoff.
func (s *Source) Fetch(ctx context.Context, p domain.Product, w *os.File) (int64, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("authenticate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.RemoteURI, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

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

// parseContentDate accepts the catalog's millisecond timestamps and
// plain RFC 3339.
func parseContentDate(v string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05.000Z", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable acquisition timestamp %q", v)
}

// boundaryWKT renders the search boundary as a closed OData polygon,
// counter-clockwise from the southwest corner.
func boundaryWKT(b domain.Boundary) string {
	corners := []string{
		fmt.Sprintf("%g %g", b.MinLon, b.MinLat),
		fmt.Sprintf("%g %g", b.MaxLon, b.MinLat),
		fmt.Sprintf("%g %g", b.MaxLon, b.MaxLat),
		fmt.Sprintf("%g %g", b.MinLon, b.MaxLat),
		fmt.Sprintf("%g %g", b.MinLon, b.MinLat),
	}
	return "POLYGON((" + strings.Join(corners, ", ") + "))"
}
