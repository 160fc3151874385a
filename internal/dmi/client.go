package dmi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/WilliamBenEmbarek/erdetkoldt/internal/models"
	"github.com/WilliamBenEmbarek/erdetkoldt/internal/observability"
)

// ForecastClient fetches a point forecast for a fixed coordinate and time window.
type ForecastClient interface {
	GetForecast(ctx context.Context, window models.QueryWindow) (*Forecast, error)
}

// Forecast parameter names understood by the HARMONIE collections.
const (
	ParamTemperature = "temperature-2m"
	ParamWindSpeed   = "wind-speed"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrUpstream      = errors.New("upstream failure")
	ErrParse         = errors.New("unexpected upstream payload")
)

// Forecast is the subset of the EDR CoverageJSON response this service reads:
// per-parameter value sequences plus the forecast valid-time axis. The first
// element of each sequence is the value nearest to the requested start time.
type Forecast struct {
	Domain Domain           `json:"domain"`
	Ranges map[string]Range `json:"ranges"`
}

type Domain struct {
	Axes Axes `json:"axes"`
}

type Axes struct {
	T TimeAxis `json:"t"`
}

type TimeAxis struct {
	Values []string `json:"values"`
}

type Range struct {
	Values []float64 `json:"values"`
}

// FirstValue returns the first (nearest) value for the named parameter.
// ok is false when the parameter is absent or carries no values.
func (f *Forecast) FirstValue(param string) (float64, bool) {
	r, exists := f.Ranges[param]
	if !exists || len(r.Values) == 0 {
		return 0, false
	}
	return r.Values[0], true
}

// FirstTimestamp returns the first entry of the valid-time axis.
func (f *Forecast) FirstTimestamp() (string, bool) {
	if len(f.Domain.Axes.T.Values) == 0 {
		return "", false
	}
	return f.Domain.Axes.T.Values[0], true
}

// EDRClient queries the DMI forecast EDR position endpoint. One request per
// call, no retries; a failed call surfaces directly to the caller.
type EDRClient struct {
	apiKey     string
	baseURL    string
	longitude  float64
	latitude   float64
	parameters []string
	client     *http.Client
}

// NewEDRClient builds a client for the given position endpoint URL
// (e.g. ".../collections/harmonie_dini_sf/position"). timeout bounds the
// whole upstream call; zero disables the bound.
func NewEDRClient(apiKey, baseURL string, longitude, latitude float64, parameters []string, timeout time.Duration) (*EDRClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(parameters) == 0 {
		return nil, fmt.Errorf("at least one forecast parameter is required")
	}

	return &EDRClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		longitude:  longitude,
		latitude:   latitude,
		parameters: parameters,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// GetForecast issues a single GET against the position endpoint for the
// configured point and the given time window.
func (c *EDRClient) GetForecast(ctx context.Context, window models.QueryWindow) (*Forecast, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, window)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ForecastAPICallsTotal.WithLabelValues("error").Inc()
		observability.ForecastAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(status).Observe(duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var forecast Forecast
	if err := json.Unmarshal(body, &forecast); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if forecast.Ranges == nil {
		return nil, fmt.Errorf("%w: response has no ranges", ErrParse)
	}

	return &forecast, nil
}

// buildRequest encodes the point geometry, CRS, parameter names and time
// window as EDR query parameters.
func (c *EDRClient) buildRequest(ctx context.Context, window models.QueryWindow) (*http.Request, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("coords", fmt.Sprintf("POINT(%g %g)", c.longitude, c.latitude))
	params.Set("crs", "crs84")
	params.Set("parameter-name", strings.Join(c.parameters, ","))
	params.Set("datetime", window.Datetime())
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Gravitee-Api-Key", c.apiKey)
	return req, nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
