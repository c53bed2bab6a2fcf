package weather

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/lox/homedash/internal/forecast"
	"github.com/lox/homedash/internal/metrics"
	"github.com/lox/homedash/internal/models"
	"github.com/lox/homedash/internal/openweather"
	"github.com/lox/homedash/internal/store"
)

const searchLimit = 5

var (
	ErrQueryRequired    = errors.New("search query required")
	ErrLocationRequired = errors.New("default location required")
)

// DefaultLocation is used when a user has no stored preference.
var DefaultLocation = models.Location{Name: "Berlin", Lat: 52.520008, Lon: 13.404954}

// Upstream is the subset of the OpenWeatherMap client the service uses.
type Upstream interface {
	Geocode(ctx context.Context, query string, limit int) ([]models.Location, error)
	Current(ctx context.Context, lat, lon float64) (*openweather.CurrentResponse, error)
	Forecast(ctx context.Context, lat, lon float64) (*openweather.ForecastResponse, error)
	Alerts(ctx context.Context, lat, lon float64) ([]models.WeatherAlert, error)
}

type Service struct {
	upstream Upstream
	store    *store.Store
	now      func() time.Time
}

func NewService(upstream Upstream, s *store.Store) *Service {
	return &Service{upstream: upstream, store: s, now: time.Now}
}

// ResolveLocation picks the location for a request: an explicit query is
// geocoded; otherwise the user's stored preference is used, falling back to
// DefaultLocation.
func (s *Service) ResolveLocation(ctx context.Context, userID, query string) (models.Location, error) {
	if q := strings.TrimSpace(query); q != "" {
		return s.geocodeFirst(ctx, q)
	}

	prefs, err := s.store.GetPreferences(userID)
	if err != nil {
		return models.Location{}, fmt.Errorf("get preferences: %w", err)
	}
	if !prefs.WeatherLocation.Valid || prefs.WeatherLocation.String == "" {
		return DefaultLocation, nil
	}
	if prefs.WeatherLat.Valid && prefs.WeatherLon.Valid {
		return models.Location{
			Name: prefs.WeatherLocation.String,
			Lat:  prefs.WeatherLat.Float64,
			Lon:  prefs.WeatherLon.Float64,
		}, nil
	}

	// Stored without coordinates; resolve by name but keep the user's label.
	loc, err := s.geocodeFirst(ctx, prefs.WeatherLocation.String)
	if err != nil {
		return models.Location{}, err
	}
	loc.Name = prefs.WeatherLocation.String
	return loc, nil
}

func (s *Service) geocodeFirst(ctx context.Context, query string) (models.Location, error) {
	locs, err := s.upstream.Geocode(ctx, query, 1)
	if err != nil {
		return models.Location{}, err
	}
	if len(locs) == 0 {
		return models.Location{}, fmt.Errorf("%w: %q", openweather.ErrLocationNotFound, query)
	}
	return locs[0], nil
}

func (s *Service) Current(ctx context.Context, userID, query string) (*models.CurrentWeather, error) {
	loc, err := s.ResolveLocation(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	return s.currentAt(ctx, loc)
}

func (s *Service) currentAt(ctx context.Context, loc models.Location) (*models.CurrentWeather, error) {
	data, err := s.upstream.Current(ctx, loc.Lat, loc.Lon)
	if err != nil {
		return nil, fmt.Errorf("fetch current weather: %w", err)
	}

	cond := data.PrimaryCondition()
	return &models.CurrentWeather{
		Location:    loc.Name,
		Country:     data.Sys.Country,
		Temperature: roundInt(data.Main.Temp),
		FeelsLike:   roundInt(data.Main.FeelsLike),
		TempMin:     roundInt(data.Main.TempMin),
		TempMax:     roundInt(data.Main.TempMax),
		Condition:   cond.Main,
		Description: cond.Description,
		Icon:        cond.Icon,
		Humidity:    roundInt(data.Main.Humidity),
		WindSpeed:   roundInt(data.Wind.Speed * 3.6),
		Pressure:    roundInt(data.Main.Pressure),
		Visibility:  data.Visibility / 1000,
		Sunrise:     time.Unix(data.Sys.Sunrise, 0).UTC(),
		Sunset:      time.Unix(data.Sys.Sunset, 0).UTC(),
		Timezone:    data.Timezone,
		LastUpdate:  s.now().UTC(),
	}, nil
}

// Forecast returns up to days daily summaries for the resolved location.
func (s *Service) Forecast(ctx context.Context, userID, query string, days int) (*models.ForecastEnvelope, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive, got %d", forecast.ErrInvalidArgument, days)
	}

	loc, err := s.ResolveLocation(ctx, userID, query)
	if err != nil {
		return nil, err
	}

	data, err := s.upstream.Forecast(ctx, loc.Lat, loc.Lon)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	samples, err := data.Samples()
	if err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	daily, err := forecast.Aggregate(samples, days)
	if err != nil {
		return nil, fmt.Errorf("aggregate forecast: %w", err)
	}
	metrics.ForecastDaysAggregated.Add(float64(len(daily)))

	return &models.ForecastEnvelope{
		Location: loc.Name,
		Country:  data.City.Country,
		Timezone: data.City.Timezone,
		Forecast: daily,
	}, nil
}

func (s *Service) Alerts(ctx context.Context, userID, query string) (*models.AlertsEnvelope, error) {
	loc, err := s.ResolveLocation(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	alerts, err := s.upstream.Alerts(ctx, loc.Lat, loc.Lon)
	if err != nil {
		return nil, fmt.Errorf("fetch alerts: %w", err)
	}
	return &models.AlertsEnvelope{Location: loc.Name, Alerts: alerts}, nil
}

// SearchLocations returns up to five geocoding matches. No matches is an
// empty result, not an error.
func (s *Service) SearchLocations(ctx context.Context, query string) ([]models.LocationMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrQueryRequired
	}

	locs, err := s.upstream.Geocode(ctx, query, searchLimit)
	if errors.Is(err, openweather.ErrLocationNotFound) {
		return []models.LocationMatch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search locations: %w", err)
	}

	matches := make([]models.LocationMatch, 0, len(locs))
	for _, l := range locs {
		matches = append(matches, models.LocationMatch{
			ID:      strings.ToLower(l.Name) + "_" + strings.ToLower(l.Country),
			Name:    l.Name,
			Country: l.Country,
			State:   l.State,
			Lat:     l.Lat,
			Lon:     l.Lon,
		})
	}
	return matches, nil
}

// UpdateSettings stores the user's default location. When lat and lon are
// not both given the location is geocoded; a geocoding miss stores the name
// without coordinates.
func (s *Service) UpdateSettings(ctx context.Context, userID, name string, lat, lon *float64) (*models.WeatherSettings, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrLocationRequired
	}

	var nlat, nlon sql.NullFloat64
	if lat != nil && lon != nil {
		nlat = sql.NullFloat64{Float64: *lat, Valid: true}
		nlon = sql.NullFloat64{Float64: *lon, Valid: true}
	} else {
		loc, err := s.geocodeFirst(ctx, name)
		switch {
		case err == nil:
			nlat = sql.NullFloat64{Float64: loc.Lat, Valid: true}
			nlon = sql.NullFloat64{Float64: loc.Lon, Valid: true}
		case errors.Is(err, openweather.ErrLocationNotFound):
			log.Printf("weather: no coordinates for %q, storing name only", name)
		default:
			return nil, fmt.Errorf("geocode %q: %w", name, err)
		}
	}

	if err := s.store.UpsertWeatherPreference(userID, name, nlat, nlon); err != nil {
		return nil, fmt.Errorf("store weather preference: %w", err)
	}

	settings := &models.WeatherSettings{DefaultLocation: name}
	if nlat.Valid {
		settings.Lat = &nlat.Float64
		settings.Lon = &nlon.Float64
	}
	return settings, nil
}

// Snapshot returns current conditions at the user's stored location, or nil
// when the user has none. Failures are logged and reported as nil.
func (s *Service) Snapshot(ctx context.Context, userID string) *models.CurrentWeather {
	prefs, err := s.store.GetPreferences(userID)
	if err != nil {
		log.Printf("weather: snapshot preferences for %s: %v", userID, err)
		return nil
	}
	if !prefs.WeatherLocation.Valid || prefs.WeatherLocation.String == "" {
		return nil
	}
	cur, err := s.Current(ctx, userID, "")
	if err != nil {
		log.Printf("weather: snapshot for %s: %v", userID, err)
		return nil
	}
	return cur
}

func roundInt(v float64) int {
	return int(math.Round(v))
}
