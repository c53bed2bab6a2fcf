package openweather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/lox/homedash/internal/httputil"
	"github.com/lox/homedash/internal/metrics"
	"github.com/lox/homedash/internal/models"
)

const DefaultBaseURL = "https://api.openweathermap.org"

var (
	ErrNoAPIKey         = errors.New("openweather api key is not configured")
	ErrLocationNotFound = errors.New("location not found")
	ErrUnauthorized     = errors.New("openweather rejected api key")
	ErrCircuitOpen      = errors.New("openweather circuit breaker open")

	errClient = errors.New("client error")
)

type Config struct {
	APIKey  string
	BaseURL string
	Lang    string

	// RPS and Burst bound outbound calls. RPS <= 0 disables limiting.
	RPS   float64
	Burst int

	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration

	// Timeout bounds each HTTP attempt. Ignored when HTTPClient is set.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the OpenWeatherMap geocoding and weather APIs.
type Client struct {
	apiKey   string
	baseURL  string
	lang     string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	retryInt time.Duration
	retryMax time.Duration
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Lang == "" {
		cfg.Lang = "de"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.NewClient(cfg.Timeout)
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 20 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			// 4xx responses and cancellations do not count toward tripping.
			return err == nil || errors.Is(err, errClient) || errors.Is(err, context.Canceled)
		},
	})

	return &Client{
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		lang:     cfg.Lang,
		client:   cfg.HTTPClient,
		limiter:  limiter,
		breaker:  breaker,
		retryInt: cfg.RetryInitialInterval,
		retryMax: cfg.RetryMaxElapsed,
	}
}

type geocodeResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

// Geocode resolves a free-text place name to at most limit locations.
// It returns ErrLocationNotFound when nothing matches.
func (c *Client) Geocode(ctx context.Context, query string, limit int) ([]models.Location, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	var results []geocodeResult
	if err := c.get(ctx, "geocode", "/geo/1.0/direct", params, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrLocationNotFound, query)
	}

	locations := make([]models.Location, 0, len(results))
	for _, r := range results {
		locations = append(locations, models.Location{
			Name:    r.Name,
			Country: r.Country,
			State:   r.State,
			Lat:     r.Lat,
			Lon:     r.Lon,
		})
	}
	return locations, nil
}

// Current fetches current conditions in metric units.
func (c *Client) Current(ctx context.Context, lat, lon float64) (*CurrentResponse, error) {
	var data CurrentResponse
	if err := c.get(ctx, "weather", "/data/2.5/weather", c.coordParams(lat, lon), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Forecast fetches the 5 day / 3 hour forecast.
func (c *Client) Forecast(ctx context.Context, lat, lon float64) (*ForecastResponse, error) {
	var data ForecastResponse
	if err := c.get(ctx, "forecast", "/data/2.5/forecast", c.coordParams(lat, lon), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Alerts fetches active weather warnings. A response without alerts yields
// an empty slice.
func (c *Client) Alerts(ctx context.Context, lat, lon float64) ([]models.WeatherAlert, error) {
	params := url.Values{}
	params.Set("lat", formatCoord(lat))
	params.Set("lon", formatCoord(lon))
	params.Set("exclude", "current,minutely,hourly,daily")

	var data AlertsResponse
	if err := c.get(ctx, "onecall", "/data/2.5/onecall", params, &data); err != nil {
		return nil, err
	}
	return data.WeatherAlerts(), nil
}

func (c *Client) coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("lat", formatCoord(lat))
	params.Set("lon", formatCoord(lon))
	params.Set("units", "metric")
	params.Set("lang", c.lang)
	return params
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	params.Set("appid", c.apiKey)
	u := c.baseURL + path + "?" + params.Encode()

	var body []byte
	operation := func() error {
		// Every attempt, retries included, takes a limiter token.
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		metrics.UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("fetch %s: %w", endpoint, err)
		}
		defer resp.Body.Close()
		metrics.UpstreamCallsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("fetch %s: status %d", endpoint, resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized:
			return backoff.Permanent(fmt.Errorf("%w: %w", errClient, ErrUnauthorized))
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %w", errClient, ErrLocationNotFound))
		default:
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("%w: fetch %s: status %d: %s", errClient, endpoint, resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.retryInt
		bo.MaxElapsedTime = c.retryMax
		return nil, backoff.Retry(operation, backoff.WithContext(bo, ctx))
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", endpoint, err)
	}
	return nil
}
