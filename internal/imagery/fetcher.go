// Package imagery fetches satellite and street-level images and geocodes
// addresses through the Google Maps Platform.
package imagery

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/usman-khan12/Vectr/internal/domain"
	"googlemaps.github.io/maps"
)

const (
	credentialSetting = "GOOGLE_MAPS_API_KEY"

	satelliteZoom  = 19
	satelliteSize  = "640x640"
	streetViewSize = "640x480"
	streetViewFOV  = "120"

	maxImageBytes = 20 << 20
)

// Kind selects the view an image is rendered from.
type Kind string

const (
	Satellite  Kind = "satellite"
	StreetView Kind = "street_view"
)

// Image is an encoded image with its MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request describes one image fetch. Size and Params are optional; fixed view
// parameters (satellite zoom, street view field of view) apply unless overridden.
type Request struct {
	Kind        Kind
	Coordinates domain.Coordinates
	Size        string
	Params      map[string]string
}

// Fetcher obtains images for coordinates. It holds no per-request state and
// never caches: repeated calls refetch.
type Fetcher struct {
	apiKey        string
	maps          *maps.Client
	httpClient    *http.Client
	streetViewURL string
	log           *slog.Logger
}

// Option configures a Fetcher or Geocoder.
type Option func(*options)

type options struct {
	mapsBaseURL   string
	streetViewURL string
	timeout       time.Duration
	log           *slog.Logger
}

// WithMapsBaseURL overrides the Maps Platform host (used for the static map and geocoding APIs).
func WithMapsBaseURL(u string) Option {
	return func(o *options) { o.mapsBaseURL = u }
}

// WithStreetViewURL overrides the Street View Static API endpoint.
func WithStreetViewURL(u string) Option {
	return func(o *options) { o.streetViewURL = u }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{
		streetViewURL: "https://maps.googleapis.com/maps/api/streetview",
		timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// newMapsClient returns nil without error when no key is set so that callers can
// report a configuration error per request instead of at startup.
func newMapsClient(apiKey string, o options) (*maps.Client, error) {
	if apiKey == "" {
		return nil, nil
	}
	mapsOpts := []maps.ClientOption{
		maps.WithAPIKey(apiKey),
		maps.WithHTTPClient(&http.Client{Timeout: o.timeout}),
	}
	if o.mapsBaseURL != "" {
		mapsOpts = append(mapsOpts, maps.WithBaseURL(o.mapsBaseURL))
	}
	client, err := maps.NewClient(mapsOpts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return client, nil
}

// NewFetcher creates an image fetcher. An empty apiKey is accepted; every fetch
// then fails with a ConfigurationError.
func NewFetcher(apiKey string, opts ...Option) (*Fetcher, error) {
	o := buildOptions(opts)
	client, err := newMapsClient(apiKey, o)
	if err != nil {
		return nil, err
	}
	return &Fetcher{
		apiKey:        apiKey,
		maps:          client,
		httpClient:    &http.Client{Timeout: o.timeout},
		streetViewURL: o.streetViewURL,
		log:           o.log,
	}, nil
}

// Fetch retrieves one image. It fails with ConfigurationError when no key is set
// and UpstreamError when the provider cannot be reached or answers non-200.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Image, error) {
	if f.apiKey == "" || f.maps == nil {
		return Image{}, &domain.ConfigurationError{Setting: credentialSetting}
	}

	switch req.Kind {
	case Satellite:
		return f.fetchSatellite(ctx, req)
	case StreetView:
		return f.fetchStreetView(ctx, req)
	default:
		return Image{}, fmt.Errorf("imagery: unknown image kind %q", req.Kind)
	}
}

// SatelliteImage fetches the top-down view centred on c.
func (f *Fetcher) SatelliteImage(ctx context.Context, c domain.Coordinates) (Image, error) {
	return f.Fetch(ctx, Request{Kind: Satellite, Coordinates: c})
}

// StreetViewImage fetches the street-level view at c.
func (f *Fetcher) StreetViewImage(ctx context.Context, c domain.Coordinates) (Image, error) {
	return f.Fetch(ctx, Request{Kind: StreetView, Coordinates: c})
}

func (f *Fetcher) fetchSatellite(ctx context.Context, req Request) (Image, error) {
	smr := &maps.StaticMapRequest{
		Center:  req.Coordinates.String(),
		Zoom:    satelliteZoom,
		Size:    satelliteSize,
		MapType: maps.Satellite,
	}
	if req.Size != "" {
		smr.Size = req.Size
	}
	if z, err := strconv.Atoi(req.Params["zoom"]); err == nil && z > 0 {
		smr.Zoom = z
	}
	if s, err := strconv.Atoi(req.Params["scale"]); err == nil && s > 0 {
		smr.Scale = s
	}

	img, err := f.maps.StaticMap(ctx, smr)
	if err != nil {
		return Image{}, domain.Upstream("static maps", "failed to fetch satellite image", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, domain.Upstream("static maps", "failed to encode satellite image", err)
	}
	f.log.Debug("Fetched satellite image", "center", smr.Center, "bytes", buf.Len())
	return Image{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

func (f *Fetcher) fetchStreetView(ctx context.Context, req Request) (Image, error) {
	q := url.Values{}
	q.Set("size", streetViewSize)
	q.Set("location", req.Coordinates.String())
	q.Set("fov", streetViewFOV)
	if req.Size != "" {
		q.Set("size", req.Size)
	}
	for k, v := range req.Params {
		q.Set(k, v)
	}
	q.Set("key", f.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.streetViewURL+"?"+q.Encode(), nil)
	if err != nil {
		return Image{}, fmt.Errorf("build street view request: %w", err)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return Image{}, domain.Upstream("street view", "error fetching street view image", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.log.Debug("Failed to close street view body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return Image{}, &domain.UpstreamError{
			Provider:   "street view",
			StatusCode: resp.StatusCode,
			Message:    "failed to fetch street view image",
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return Image{}, domain.Upstream("street view", "error reading street view image", err)
	}

	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	f.log.Debug("Fetched street view image", "location", req.Coordinates.String(), "bytes", len(data))
	return Image{Data: data, MIMEType: mime}, nil
}
