// Package era5 adapts the Copernicus Climate Data Store (CDS) API to
// the source.DataSource capability. Reanalysis has no granule catalog
// to search, so discovery synthesizes one product per calendar month in
// the query window and Fetch submits the corresponding retrieval job,
// polling until CDS has assembled the download.
package era5

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
	"github.com/couchcryptid/atmos-regrid/internal/source"
	"github.com/couchcryptid/atmos-regrid/internal/store"
)

const (
	defaultDataset      = "reanalysis-era5-single-levels"
	defaultPollInterval = 5 * time.Second
)

// varAbbrev maps CDS variable names to the short names used in granule
// files and artifact names.
var varAbbrev = map[string]string{
	"boundary_layer_height":                 "blh",
	"temperature":                           "temp",
	"u_component_of_wind":                   "u",
	"v_component_of_wind":                   "v",
	"convective_available_potential_energy": "cape",
}

// Options configure the ERA5 source. APIURL and Key follow the cdsapi
// convention (CDSAPI_URL, CDSAPI_KEY with "uid:key" form).
type Options struct {
	APIURL       string
	Key          string
	Dataset      string // default reanalysis-era5-single-levels
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Source synthesizes monthly ERA5 products and retrieves them through
// the CDS request/poll/download flow.
type Source struct {
	apiURL       string
	uid          string
	key          string
	dataset      string
	pollInterval time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// New creates an ERA5 source.
func New(opts Options) *Source {
	uid, key := opts.Key, ""
	if i := strings.IndexByte(opts.Key, ':'); i >= 0 {
		uid, key = opts.Key[:i], opts.Key[i+1:]
	}
	dataset := opts.Dataset
	if dataset == "" {
		dataset = defaultDataset
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		apiURL:       strings.TrimRight(opts.APIURL, "/"),
		uid:          uid,
		key:          key,
		dataset:      dataset,
		pollInterval: pollInterval,
		client:       &http.Client{},
		logger:       logger,
	}
}

func (s *Source) Name() string { return "era5" }

// Discover returns one synthetic product per calendar month overlapping
// the window. Sizes are unknown until CDS assembles the file, so the
// download manager verifies nothing beyond a successful transfer. The
// retrieval parameters are encoded in the product's remote URI so Fetch
// is self-contained.
func (s *Source) Discover(_ context.Context, q source.Query) ([]domain.Product, error) {
	abbrev := abbrevFor(q.ProductType)

	var products []domain.Product
	start := time.Date(q.Start.Year(), q.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for m := start; !m.After(q.End); m = m.AddDate(0, 1, 0) {
		params := url.Values{
			"variable": {q.ProductType},
			"year":     {m.Format("2006")},
			"month":    {m.Format("01")},
			"area": {fmt.Sprintf("%g/%g/%g/%g",
				q.Boundary.MaxLat, q.Boundary.MinLon, q.Boundary.MinLat, q.Boundary.MaxLon)},
		}
		products = append(products, domain.Product{
			ID:         fmt.Sprintf("era5-%s-%s", abbrev, m.Format("200601")),
			Name:       fmt.Sprintf("ERA5_%s_%s.nc", abbrev, m.Format("200601")),
			AcquiredAt: m,
			RemoteURI:  "cds:" + s.dataset + "?" + params.Encode(),
			Status:     domain.StatusPending,
		})
		if q.Limit > 0 && len(products) >= q.Limit {
			break
		}
	}
	return products, nil
}

type cdsTask struct {
	State     string `json:"state"`
	RequestID string `json:"request_id"`
	Location  string `json:"location"`
	Error     struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

// Fetch submits the retrieval request, polls the task until it
// completes, and streams the assembled file into w.
func (s *Source) Fetch(ctx context.Context, p domain.Product, w *os.File) (int64, error) {
	params, err := retrievalParams(p.RemoteURI)
	if err != nil {
		return 0, err
	}

	task, err := s.submit(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("submit retrieval: %w", err)
	}

	for task.State != "completed" {
		if task.State == "failed" {
			return 0, fmt.Errorf("retrieval failed: %s: %s", task.Error.Reason, task.Error.Message)
		}
		if !sleepWithContext(ctx, s.pollInterval) {
			return 0, ctx.Err()
		}
		if task, err = s.poll(ctx, task.RequestID); err != nil {
			return 0, fmt.Errorf("poll retrieval: %w", err)
		}
	}

	return s.download(ctx, task.Location, w)
}

func (s *Source) submit(ctx context.Context, params url.Values) (cdsTask, error) {
	body := map[string]any{
		"variable":     params.Get("variable"),
		"year":         params.Get("year"),
		"month":        params.Get("month"),
		"product_type": "reanalysis",
		"data_format":  "netcdf",
		"day":          allDays(),
		"time":         allHours(),
	}
	if area := params.Get("area"); area != "" {
		body["area"] = strings.Split(area, "/")
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return cdsTask{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.apiURL+"/resources/"+s.dataset, bytes.NewReader(payload))
	if err != nil {
		return cdsTask{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.uid, s.key)

	return s.doTask(req)
}

func (s *Source) poll(ctx context.Context, requestID string) (cdsTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/tasks/"+requestID, nil)
	if err != nil {
		return cdsTask{}, err
	}
	req.SetBasicAuth(s.uid, s.key)
	return s.doTask(req)
}

func (s *Source) doTask(req *http.Request) (cdsTask, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return cdsTask{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return cdsTask{}, fmt.Errorf("cds returned %d", resp.StatusCode)
	}
	var task cdsTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return cdsTask{}, fmt.Errorf("decode cds response: %w", err)
	}
	return task, nil
}

func (s *Source) download(ctx context.Context, location string, w *os.File) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return 0, err
	}
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

// Read decodes a local granule file, trying the abbreviated variable
// names reanalysis files carry.
func (s *Source) Read(path string) (domain.Granule, error) {
	var lastErr error
	for _, name := range readCandidates() {
		g, err := store.ReadGranule(path, name)
		if err == nil {
			return g, nil
		}
		lastErr = err
	}
	return domain.Granule{}, lastErr
}

func readCandidates() []string {
	names := make([]string, 0, len(varAbbrev))
	for _, a := range varAbbrev {
		names = append(names, a)
	}
	return names
}

func abbrevFor(variable string) string {
	if a, ok := varAbbrev[variable]; ok {
		return a
	}
	if len(variable) >= 3 {
		return strings.ToLower(variable[:3])
	}
	return strings.ToLower(variable)
}

func retrievalParams(remoteURI string) (url.Values, error) {
	rest, ok := strings.CutPrefix(remoteURI, "cds:")
	if !ok {
		return nil, fmt.Errorf("not a cds retrieval uri: %q", remoteURI)
	}
	_, query, _ := strings.Cut(rest, "?")
	return url.ParseQuery(query)
}

func allDays() []string {
	days := make([]string, 31)
	for i := range days {
		days[i] = fmt.Sprintf("%02d", i+1)
	}
	return days
}

func allHours() []string {
	hours := make([]string, 24)
	for i := range hours {
		hours[i] = fmt.Sprintf("%02d:00", i)
	}
	return hours
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
