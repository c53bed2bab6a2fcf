package weather

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/homedash/internal/forecast"
	"github.com/lox/homedash/internal/models"
	"github.com/lox/homedash/internal/openweather"
	"github.com/lox/homedash/internal/store"
)

type fakeUpstream struct {
	places   map[string]models.Location
	current  *openweather.CurrentResponse
	forecast *openweather.ForecastResponse
	alerts   []models.WeatherAlert
	err      error

	geocodeCalls  []string
	forecastCalls int
	lastLat       float64
	lastLon       float64
}

func (f *fakeUpstream) Geocode(ctx context.Context, query string, limit int) ([]models.Location, error) {
	f.geocodeCalls = append(f.geocodeCalls, query)
	if f.err != nil {
		return nil, f.err
	}
	loc, ok := f.places[query]
	if !ok {
		return nil, openweather.ErrLocationNotFound
	}
	return []models.Location{loc}, nil
}

func (f *fakeUpstream) Current(ctx context.Context, lat, lon float64) (*openweather.CurrentResponse, error) {
	f.lastLat, f.lastLon = lat, lon
	return f.current, f.err
}

func (f *fakeUpstream) Forecast(ctx context.Context, lat, lon float64) (*openweather.ForecastResponse, error) {
	f.forecastCalls++
	f.lastLat, f.lastLon = lat, lon
	return f.forecast, f.err
}

func (f *fakeUpstream) Alerts(ctx context.Context, lat, lon float64) ([]models.WeatherAlert, error) {
	f.lastLat, f.lastLon = lat, lon
	return f.alerts, f.err
}

var munich = models.Location{Name: "München", Country: "DE", State: "Bavaria", Lat: 48.137154, Lon: 11.576124}

func setupService(t *testing.T, up *fakeUpstream) (*Service, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.CreateUser(models.User{ID: "u1", Name: "Anna", Email: "anna@example.com", PasswordHash: "x", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return NewService(up, s), s
}

func forecastFixture() *openweather.ForecastResponse {
	item := func(dtTxt string, temp float64, cond string, pop float64) openweather.ForecastItem {
		var it openweather.ForecastItem
		it.DtTxt = dtTxt
		it.Main.Temp = &temp
		it.Main.Humidity = 60
		it.Wind.Speed = 5
		it.Pop = pop
		it.Weather = []openweather.Condition{{Main: cond, Description: cond + " desc", Icon: "01d"}}
		return it
	}
	resp := &openweather.ForecastResponse{List: []openweather.ForecastItem{
		item("2025-04-01 09:00:00", 10.4, "Clear", 0.1),
		item("2025-04-01 12:00:00", 14.6, "Clouds", 0.3),
		item("2025-04-02 09:00:00", 9.0, "Rain", 0.8),
		item("2025-04-03 09:00:00", 12.0, "Clear", 0),
	}}
	resp.City.Country = "DE"
	resp.City.Timezone = 7200
	return resp
}

func TestResolveLocation(t *testing.T) {
	up := &fakeUpstream{places: map[string]models.Location{"München": munich, "Hamburg": {Name: "Hamburg", Lat: 53.55, Lon: 9.99}}}
	svc, s := setupService(t, up)
	ctx := context.Background()

	loc, err := svc.ResolveLocation(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ResolveLocation default: %v", err)
	}
	if loc != DefaultLocation {
		t.Errorf("default = %+v, want Berlin", loc)
	}

	loc, err = svc.ResolveLocation(ctx, "u1", "München")
	if err != nil {
		t.Fatalf("ResolveLocation query: %v", err)
	}
	if loc.Name != "München" || loc.Lat != munich.Lat {
		t.Errorf("query = %+v", loc)
	}

	if err := s.UpsertWeatherPreference("u1", "Zuhause", sql.NullFloat64{Float64: 50.1, Valid: true}, sql.NullFloat64{Float64: 8.6, Valid: true}); err != nil {
		t.Fatal(err)
	}
	loc, err = svc.ResolveLocation(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ResolveLocation stored: %v", err)
	}
	if loc.Name != "Zuhause" || loc.Lat != 50.1 || loc.Lon != 8.6 {
		t.Errorf("stored = %+v", loc)
	}

	if err := s.UpsertWeatherPreference("u1", "Hamburg", sql.NullFloat64{}, sql.NullFloat64{}); err != nil {
		t.Fatal(err)
	}
	loc, err = svc.ResolveLocation(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ResolveLocation stored without coords: %v", err)
	}
	if loc.Name != "Hamburg" || loc.Lat != 53.55 {
		t.Errorf("stored without coords = %+v", loc)
	}

	if _, err := svc.ResolveLocation(ctx, "u1", "Atlantis"); !errors.Is(err, openweather.ErrLocationNotFound) {
		t.Errorf("err = %v, want ErrLocationNotFound", err)
	}
}

func TestForecast(t *testing.T) {
	up := &fakeUpstream{forecast: forecastFixture()}
	svc, _ := setupService(t, up)

	env, err := svc.Forecast(context.Background(), "u1", "", 2)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if env.Location != "Berlin" || env.Country != "DE" || env.Timezone != 7200 {
		t.Errorf("envelope = %+v", env)
	}
	if up.lastLat != DefaultLocation.Lat || up.lastLon != DefaultLocation.Lon {
		t.Errorf("coords = %v,%v, want Berlin", up.lastLat, up.lastLon)
	}
	if len(env.Forecast) != 2 {
		t.Fatalf("len(forecast) = %d, want 2", len(env.Forecast))
	}

	day := env.Forecast[0]
	if day.Date != "2025-04-01" {
		t.Errorf("Date = %q", day.Date)
	}
	if day.Temperature.Min != 10 || day.Temperature.Max != 15 {
		t.Errorf("Temperature = %+v, want 10/15", day.Temperature)
	}
	if day.Condition != "Clear" {
		t.Errorf("Condition = %q, want Clear (tie goes to first seen)", day.Condition)
	}
	if day.WindSpeed != 18 || day.Precipitation.Probability != 30 {
		t.Errorf("day = %+v", day)
	}
}

func TestForecast_InvalidDays(t *testing.T) {
	up := &fakeUpstream{forecast: forecastFixture()}
	svc, _ := setupService(t, up)

	for _, days := range []int{0, -1} {
		if _, err := svc.Forecast(context.Background(), "u1", "", days); !errors.Is(err, forecast.ErrInvalidArgument) {
			t.Errorf("days=%d: err = %v, want ErrInvalidArgument", days, err)
		}
	}
	if up.forecastCalls != 0 {
		t.Errorf("forecastCalls = %d, want 0", up.forecastCalls)
	}
}

func TestForecast_MalformedUpstream(t *testing.T) {
	resp := forecastFixture()
	resp.List[1].Main.Temp = nil
	svc, _ := setupService(t, &fakeUpstream{forecast: resp})

	if _, err := svc.Forecast(context.Background(), "u1", "", 5); !errors.Is(err, forecast.ErrMalformedSample) {
		t.Errorf("err = %v, want ErrMalformedSample", err)
	}
}

func TestCurrent(t *testing.T) {
	cur := &openweather.CurrentResponse{Timezone: 7200, Visibility: 8500}
	cur.Main.Temp = 14.5
	cur.Main.FeelsLike = -0.5
	cur.Main.Humidity = 62
	cur.Main.Pressure = 1014
	cur.Wind.Speed = 4.2
	cur.Sys.Country = "DE"
	cur.Sys.Sunrise = 1743482400
	cur.Weather = []openweather.Condition{{Main: "Clouds", Description: "bedeckt", Icon: "04d"}}

	svc, _ := setupService(t, &fakeUpstream{current: cur, places: map[string]models.Location{"München": munich}})
	fixed := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	got, err := svc.Current(context.Background(), "u1", "München")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	want := models.CurrentWeather{
		Location:    "München",
		Country:     "DE",
		Temperature: 15,
		FeelsLike:   -1,
		Condition:   "Clouds",
		Description: "bedeckt",
		Icon:        "04d",
		Humidity:    62,
		WindSpeed:   15,
		Pressure:    1014,
		Visibility:  8.5,
		Sunrise:     time.Unix(1743482400, 0).UTC(),
		Sunset:      time.Unix(0, 0).UTC(),
		Timezone:    7200,
		LastUpdate:  fixed,
	}
	if *got != want {
		t.Errorf("Current =\n%+v\nwant\n%+v", *got, want)
	}
}

func TestAlerts(t *testing.T) {
	up := &fakeUpstream{alerts: []models.WeatherAlert{{Event: "Sturmböen"}}}
	svc, _ := setupService(t, up)

	env, err := svc.Alerts(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if env.Location != "Berlin" || len(env.Alerts) != 1 {
		t.Errorf("envelope = %+v", env)
	}
}

func TestSearchLocations(t *testing.T) {
	up := &fakeUpstream{places: map[string]models.Location{"München": munich}}
	svc, _ := setupService(t, up)
	ctx := context.Background()

	if _, err := svc.SearchLocations(ctx, "  "); !errors.Is(err, ErrQueryRequired) {
		t.Errorf("err = %v, want ErrQueryRequired", err)
	}

	matches, err := svc.SearchLocations(ctx, "München")
	if err != nil {
		t.Fatalf("SearchLocations: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "münchen_de" || matches[0].State != "Bavaria" {
		t.Errorf("matches = %+v", matches)
	}

	matches, err = svc.SearchLocations(ctx, "Atlantis")
	if err != nil {
		t.Fatalf("SearchLocations no match: %v", err)
	}
	if matches == nil || len(matches) != 0 {
		t.Errorf("matches = %#v, want empty slice", matches)
	}
}

func TestUpdateSettings(t *testing.T) {
	up := &fakeUpstream{places: map[string]models.Location{"München": munich}}
	svc, s := setupService(t, up)
	ctx := context.Background()

	lat, lon := 50.0, 8.0
	tests := []struct {
		name      string
		location  string
		lat, lon  *float64
		wantLat   *float64
		wantGeo   bool
		wantError error
	}{
		{name: "explicit coordinates", location: "Frankfurt", lat: &lat, lon: &lon, wantLat: &lat},
		{name: "geocoded", location: "München", wantLat: &munich.Lat, wantGeo: true},
		{name: "geocode miss", location: "Atlantis", wantGeo: true},
		{name: "only lat given", location: "München", lat: &lat, wantLat: &munich.Lat, wantGeo: true},
		{name: "empty", location: " ", wantError: ErrLocationRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up.geocodeCalls = nil
			settings, err := svc.UpdateSettings(ctx, "u1", tt.location, tt.lat, tt.lon)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Fatalf("err = %v, want %v", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateSettings: %v", err)
			}
			if got := len(up.geocodeCalls) > 0; got != tt.wantGeo {
				t.Errorf("geocoded = %v, want %v", got, tt.wantGeo)
			}
			if tt.wantLat == nil {
				if settings.Lat != nil {
					t.Errorf("Lat = %v, want nil", *settings.Lat)
				}
			} else if settings.Lat == nil || *settings.Lat != *tt.wantLat {
				t.Errorf("Lat = %v, want %v", settings.Lat, *tt.wantLat)
			}

			prefs, err := s.GetPreferences("u1")
			if err != nil {
				t.Fatal(err)
			}
			if prefs.WeatherLocation.String != tt.location || prefs.WeatherLat.Valid != (tt.wantLat != nil) {
				t.Errorf("stored = %+v", prefs)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	cur := &openweather.CurrentResponse{}
	cur.Main.Temp = 20
	up := &fakeUpstream{current: cur}
	svc, s := setupService(t, up)
	ctx := context.Background()

	if got := svc.Snapshot(ctx, "u1"); got != nil {
		t.Errorf("Snapshot without preference = %+v, want nil", got)
	}

	if err := s.UpsertWeatherPreference("u1", "Berlin", sql.NullFloat64{Float64: 52.5, Valid: true}, sql.NullFloat64{Float64: 13.4, Valid: true}); err != nil {
		t.Fatal(err)
	}
	got := svc.Snapshot(ctx, "u1")
	if got == nil || got.Temperature != 20 {
		t.Errorf("Snapshot = %+v", got)
	}

	up.err = errors.New("upstream down")
	if got := svc.Snapshot(ctx, "u1"); got != nil {
		t.Errorf("Snapshot on failure = %+v, want nil", got)
	}
}
