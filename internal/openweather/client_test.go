package openweather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lox/homedash/internal/forecast"
)

const forecastJSON = `{
  "list": [
    {"dt": 1743465600, "dt_txt": "2025-04-01 00:00:00", "main": {"temp": 8.4, "humidity": 80},
     "weather": [{"main": "Rain", "description": "leichter Regen", "icon": "10n"}],
     "wind": {"speed": 3.1}, "pop": 0.62, "rain": {"3h": 0.8}},
    {"dt": 1743476400, "dt_txt": "2025-04-01 03:00:00", "main": {"temp": 7.9, "humidity": 85},
     "weather": [{"main": "Clouds", "description": "bedeckt", "icon": "04n"}],
     "wind": {"speed": 2.4}, "pop": 0.2},
    {"dt": 1743552000, "dt_txt": "2025-04-02 00:00:00", "main": {"temp": 6.0, "humidity": 70},
     "weather": [{"main": "Clear", "description": "klarer Himmel", "icon": "01n"}],
     "wind": {"speed": 1.0}, "pop": 0}
  ],
  "city": {"name": "Berlin", "country": "DE", "timezone": 7200}
}`

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		APIKey:               "test-key",
		BaseURL:              srv.URL,
		RetryInitialInterval: time.Millisecond,
		RetryMaxElapsed:      200 * time.Millisecond,
	})
}

func TestClient_Forecast(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/2.5/forecast" {
			t.Errorf("path = %s, want /data/2.5/forecast", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("appid") != "test-key" || q.Get("units") != "metric" || q.Get("lang") != "de" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("lat") != "52.520008" || q.Get("lon") != "13.404954" {
			t.Errorf("coords = %s,%s", q.Get("lat"), q.Get("lon"))
		}
		w.Write([]byte(forecastJSON))
	}))

	resp, err := client.Forecast(context.Background(), 52.520008, 13.404954)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if resp.City.Name != "Berlin" || resp.City.Country != "DE" || resp.City.Timezone != 7200 {
		t.Errorf("city = %+v", resp.City)
	}

	samples, err := resp.Samples()
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("len(samples) = %d, want 3", len(samples))
	}
	first := samples[0]
	if first.Condition != "Rain" || first.Description != "leichter Regen" || first.Icon != "10n" {
		t.Errorf("first condition = %+v", first)
	}
	if first.PrecipVolume == nil || *first.PrecipVolume != 0.8 {
		t.Errorf("first PrecipVolume = %v, want 0.8", first.PrecipVolume)
	}
	if samples[1].PrecipVolume != nil {
		t.Errorf("second PrecipVolume = %v, want nil", *samples[1].PrecipVolume)
	}
	if got := samples[2].Time.Format("2006-01-02 15:04"); got != "2025-04-02 00:00" {
		t.Errorf("third time = %s", got)
	}

	days, err := forecast.Aggregate(samples, forecast.DefaultDays)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("len(days) = %d, want 2", len(days))
	}
	if days[0].Condition != "Rain" || days[0].Precipitation.Probability != 62 {
		t.Errorf("day 1 = %+v", days[0])
	}
}

func TestForecastResponse_SamplesRejectsMissingTemp(t *testing.T) {
	resp := ForecastResponse{List: []ForecastItem{{DtTxt: "2025-04-01 00:00:00"}}}
	if _, err := resp.Samples(); !errors.Is(err, forecast.ErrMalformedSample) {
		t.Errorf("err = %v, want ErrMalformedSample", err)
	}
}

func TestForecastResponse_SamplesTimestampFallback(t *testing.T) {
	temp := 4.0
	item := ForecastItem{Dt: 1743465600}
	item.Main.Temp = &temp
	resp := ForecastResponse{List: []ForecastItem{item}}

	samples, err := resp.Samples()
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if !samples[0].Time.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("time = %v", samples[0].Time)
	}

	resp = ForecastResponse{List: []ForecastItem{{}}}
	resp.List[0].Main.Temp = &temp
	if _, err := resp.Samples(); !errors.Is(err, forecast.ErrMalformedSample) {
		t.Errorf("err = %v, want ErrMalformedSample for missing timestamp", err)
	}
}

func TestClient_Geocode(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Nowhere" {
			w.Write([]byte(`[]`))
			return
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit = %s, want 5", r.URL.Query().Get("limit"))
		}
		w.Write([]byte(`[{"name":"München","lat":48.137154,"lon":11.576124,"country":"DE","state":"Bavaria"}]`))
	}))

	locs, err := client.Geocode(context.Background(), "Münch", 5)
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if len(locs) != 1 || locs[0].Name != "München" || locs[0].State != "Bavaria" {
		t.Errorf("locations = %+v", locs)
	}

	_, err = client.Geocode(context.Background(), "Nowhere", 1)
	if !errors.Is(err, ErrLocationNotFound) {
		t.Errorf("err = %v, want ErrLocationNotFound", err)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"alerts":[{"sender_name":"DWD","event":"Sturmböen","start":1743465600,"end":1743476400,"description":"<p>Es treten <b>Sturmböen</b> auf.</p>"}]}`))
	}))

	alerts, err := client.Alerts(context.Background(), 52.5, 13.4)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if len(alerts) != 1 || alerts[0].Event != "Sturmböen" || alerts[0].Description != "Es treten Sturmböen auf." {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestClient_AlertsEmpty(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lat":52.5,"lon":13.4}`))
	}))

	alerts, err := client.Alerts(context.Background(), 52.5, 13.4)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if alerts == nil || len(alerts) != 0 {
		t.Errorf("alerts = %#v, want empty slice", alerts)
	}
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Current(context.Background(), 1, 2)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_NoAPIKey(t *testing.T) {
	client := New(Config{})
	if _, err := client.Current(context.Background(), 1, 2); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestClient_Current(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Berlin","timezone":7200,"visibility":10000,
			"weather":[{"main":"Clouds","description":"Mäßig bewölkt","icon":"03d"}],
			"main":{"temp":14.6,"feels_like":13.2,"temp_min":12.1,"temp_max":16.5,"humidity":62,"pressure":1014},
			"wind":{"speed":4.2},"sys":{"country":"DE","sunrise":1743482400,"sunset":1743529800}}`))
	}))

	resp, err := client.Current(context.Background(), 52.5, 13.4)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if resp.Main.Temp != 14.6 || resp.Sys.Country != "DE" || resp.PrimaryCondition().Main != "Clouds" {
		t.Errorf("current = %+v", resp)
	}
}

func TestClient_RetriesAreRateLimited(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, time.Now())
		n := len(calls)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	client := New(Config{
		APIKey:               "test-key",
		BaseURL:              srv.URL,
		RPS:                  10,
		Burst:                1,
		RetryInitialInterval: time.Millisecond,
		RetryMaxElapsed:      2 * time.Second,
	})

	if _, err := client.Alerts(context.Background(), 52.5, 13.4); err != nil {
		t.Fatalf("Alerts: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	// 10 rps with burst 1 spaces attempts 100ms apart.
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].Sub(calls[i-1]); gap < 80*time.Millisecond {
			t.Errorf("attempt %d came %v after the previous one, want limiter spacing", i+1, gap)
		}
	}
}

func TestClient_LimiterWaitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client := New(Config{
		APIKey:               "test-key",
		BaseURL:              srv.URL,
		RPS:                  0.1,
		Burst:                1,
		RetryInitialInterval: time.Millisecond,
		RetryMaxElapsed:      5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Alerts(ctx, 52.5, 13.4)
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Alerts took %v, want it to stop once the limiter cannot serve a retry", elapsed)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
