package imagery

import (
	"context"
	"log/slog"

	"github.com/usman-khan12/Vectr/internal/domain"
	"googlemaps.github.io/maps"
)

// Place is a geocoding result.
type Place struct {
	Coordinates      domain.Coordinates `json:"coordinates"`
	FormattedAddress string             `json:"formatted_address"`
}

// Geocoder resolves addresses to coordinates and back.
type Geocoder struct {
	maps *maps.Client
	log  *slog.Logger
}

// NewGeocoder creates a geocoder. An empty apiKey is accepted; every lookup then
// fails with a ConfigurationError.
func NewGeocoder(apiKey string, opts ...Option) (*Geocoder, error) {
	o := buildOptions(opts)
	client, err := newMapsClient(apiKey, o)
	if err != nil {
		return nil, err
	}
	return &Geocoder{maps: client, log: o.log}, nil
}

// Geocode returns the best match for address.
func (g *Geocoder) Geocode(ctx context.Context, address string) (Place, error) {
	if g.maps == nil {
		return Place{}, &domain.ConfigurationError{Setting: credentialSetting}
	}

	results, err := g.maps.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return Place{}, domain.Upstream("geocoding", "geocode failed", err)
	}
	if len(results) == 0 {
		return Place{}, domain.Upstream("geocoding", "no results for address", nil)
	}

	best := results[0]
	g.log.Debug("Geocoded address", "address", address, "match", best.FormattedAddress)
	return Place{
		Coordinates:      domain.Coordinates{Lat: best.Geometry.Location.Lat, Lng: best.Geometry.Location.Lng},
		FormattedAddress: best.FormattedAddress,
	}, nil
}

// ReverseGeocode returns the formatted address nearest to c.
func (g *Geocoder) ReverseGeocode(ctx context.Context, c domain.Coordinates) (string, error) {
	if g.maps == nil {
		return "", &domain.ConfigurationError{Setting: credentialSetting}
	}

	results, err := g.maps.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: c.Lat, Lng: c.Lng},
	})
	if err != nil {
		return "", domain.Upstream("geocoding", "reverse geocode failed", err)
	}
	if len(results) == 0 {
		return "", domain.Upstream("geocoding", "no address at coordinates", nil)
	}
	return results[0].FormattedAddress, nil
}
