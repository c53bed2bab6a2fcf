package openweather

import (
	"fmt"
	"time"

	"github.com/lox/homedash/internal/forecast"
	"github.com/lox/homedash/internal/htmlutil"
	"github.com/lox/homedash/internal/models"
)

// dtTxtLayout is the layout of the forecast list's dt_txt field (UTC).
const dtTxtLayout = "2006-01-02 15:04:05"

type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type CurrentResponse struct {
	Name       string      `json:"name"`
	Timezone   int         `json:"timezone"`
	Visibility float64     `json:"visibility"`
	Weather    []Condition `json:"weather"`
	Main       struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Humidity  float64 `json:"humidity"`
		Pressure  float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
}

// PrimaryCondition returns the first weather entry, which OpenWeatherMap
// treats as the main one.
func (r *CurrentResponse) PrimaryCondition() Condition {
	if len(r.Weather) == 0 {
		return Condition{}
	}
	return r.Weather[0]
}

type ForecastResponse struct {
	List []ForecastItem `json:"list"`
	City struct {
		Name     string `json:"name"`
		Country  string `json:"country"`
		Timezone int    `json:"timezone"`
	} `json:"city"`
}

type ForecastItem struct {
	Dt    int64  `json:"dt"`
	DtTxt string `json:"dt_txt"`
	Main  struct {
		Temp     *float64 `json:"temp"`
		Humidity float64  `json:"humidity"`
	} `json:"main"`
	Weather []Condition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Pop  float64 `json:"pop"`
	Rain *struct {
		ThreeHour *float64 `json:"3h"`
	} `json:"rain"`
}

// Samples converts the forecast list into typed samples. Items without a
// temperature or timestamp are rejected rather than passed on as zero values.
func (r *ForecastResponse) Samples() ([]models.ForecastSample, error) {
	samples := make([]models.ForecastSample, 0, len(r.List))
	for i, item := range r.List {
		ts, err := item.time()
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		if item.Main.Temp == nil {
			return nil, fmt.Errorf("list[%d]: %w: missing main.temp", i, forecast.ErrMalformedSample)
		}

		s := models.ForecastSample{
			Time:              ts,
			Temp:              *item.Main.Temp,
			Humidity:          item.Main.Humidity,
			WindSpeed:         item.Wind.Speed,
			PrecipProbability: item.Pop,
		}
		if len(item.Weather) > 0 {
			s.Condition = item.Weather[0].Main
			s.Description = item.Weather[0].Description
			s.Icon = item.Weather[0].Icon
		}
		if item.Rain != nil && item.Rain.ThreeHour != nil {
			v := *item.Rain.ThreeHour
			s.PrecipVolume = &v
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (item ForecastItem) time() (time.Time, error) {
	if item.DtTxt != "" {
		ts, err := time.Parse(dtTxtLayout, item.DtTxt)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: dt_txt %q: %v", forecast.ErrMalformedSample, item.DtTxt, err)
		}
		return ts, nil
	}
	if item.Dt != 0 {
		return time.Unix(item.Dt, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: missing timestamp", forecast.ErrMalformedSample)
}

type AlertsResponse struct {
	Alerts []struct {
		SenderName  string   `json:"sender_name"`
		Event       string   `json:"event"`
		Start       int64    `json:"start"`
		End         int64    `json:"end"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	} `json:"alerts"`
}

// WeatherAlerts converts the upstream alerts. Some national services send
// HTML in descriptions, which is reduced to plain text.
func (r *AlertsResponse) WeatherAlerts() []models.WeatherAlert {
	alerts := make([]models.WeatherAlert, 0, len(r.Alerts))
	for _, a := range r.Alerts {
		alerts = append(alerts, models.WeatherAlert{
			SenderName:  a.SenderName,
			Event:       a.Event,
			Start:       time.Unix(a.Start, 0).UTC(),
			End:         time.Unix(a.End, 0).UTC(),
			Description: htmlutil.ToText(a.Description),
			Tags:        a.Tags,
		})
	}
	return alerts
}
