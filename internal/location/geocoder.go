package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// NominatimGeocoder reverse geocodes through a Nominatim compatible
// /reverse endpoint.
type NominatimGeocoder struct {
	http *resty.Client
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// NewNominatimGeocoder creates a geocoder for baseURL, e.g.
// https://nominatim.openstreetmap.org.
func NewNominatimGeocoder(baseURL, userAgent string, timeout time.Duration) *NominatimGeocoder {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &NominatimGeocoder{http: client}
}

func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	var out reverseResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format": "jsonv2",
			"lat":    strconv.FormatFloat(lat, 'f', 6, 64),
			"lon":    strconv.FormatFloat(lon, 'f', 6, 64),
		}).
		SetResult(&out).
		Get("/reverse")
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("reverse geocode: status %d", resp.StatusCode())
	}
	if out.Error != "" {
		return "", fmt.Errorf("reverse geocode: %s", out.Error)
	}
	if out.DisplayName == "" {
		return "", fmt.Errorf("reverse geocode: no result")
	}
	return out.DisplayName, nil
}
