package models

import (
	"database/sql"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"date"`
}

type Preferences struct {
	UserID                string
	WeatherLocation       sql.NullString
	WeatherLat            sql.NullFloat64
	WeatherLon            sql.NullFloat64
	BankingRefreshMinutes int
	DevicesRefreshSeconds int
}

// Location is a resolved place with coordinates.
type Location struct {
	Name    string  `json:"name"`
	Country string  `json:"country,omitempty"`
	State   string  `json:"state,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// LocationMatch is a search result as returned to the dashboard.
type LocationMatch struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// ForecastSample is one 3-hour slot from the raw forecast feed.
type ForecastSample struct {
	Time              time.Time
	Temp              float64 // Celsius
	Condition         string  // e.g. "Clear", "Rain", "Clouds"
	Description       string
	Icon              string
	Humidity          float64 // percent
	WindSpeed         float64 // m/s
	PrecipProbability float64 // 0.0-1.0
	PrecipVolume      *float64
}

type TemperatureRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type Precipitation struct {
	Probability int     `json:"probability"`
	Amount      float64 `json:"amount"`
}

// DailySummary is the per-calendar-day view built from forecast samples.
type DailySummary struct {
	Date          string           `json:"date"`
	Temperature   TemperatureRange `json:"temperature"`
	Condition     string           `json:"condition"`
	Description   string           `json:"description"`
	Icon          string           `json:"icon"`
	Humidity      int              `json:"humidity"`
	WindSpeed     int              `json:"windSpeed"` // km/h
	Precipitation Precipitation    `json:"precipitation"`
}

type ForecastEnvelope struct {
	Location string         `json:"location"`
	Country  string         `json:"country"`
	Timezone int            `json:"timezone"`
	Forecast []DailySummary `json:"forecast"`
}

type CurrentWeather struct {
	Location    string    `json:"location"`
	Country     string    `json:"country"`
	Temperature int       `json:"temperature"`
	FeelsLike   int       `json:"feelsLike"`
	TempMin     int       `json:"tempMin"`
	TempMax     int       `json:"tempMax"`
	Condition   string    `json:"condition"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Humidity    int       `json:"humidity"`
	WindSpeed   int       `json:"windSpeed"` // km/h
	Pressure    int       `json:"pressure"`
	Visibility  float64   `json:"visibility"` // km
	Sunrise     time.Time `json:"sunrise"`
	Sunset      time.Time `json:"sunset"`
	Timezone    int       `json:"timezone"`
	LastUpdate  time.Time `json:"lastUpdate"`
}

type WeatherAlert struct {
	SenderName  string    `json:"sender_name"`
	Event       string    `json:"event"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
}

type AlertsEnvelope struct {
	Location string         `json:"location"`
	Alerts   []WeatherAlert `json:"alerts"`
}

type WeatherSettings struct {
	DefaultLocation string   `json:"defaultLocation"`
	Lat             *float64 `json:"lat,omitempty"`
	Lon             *float64 `json:"lon,omitempty"`
}
