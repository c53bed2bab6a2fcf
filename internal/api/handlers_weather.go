package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/lox/homedash/internal/auth"
	"github.com/lox/homedash/internal/imagegen"
	"github.com/lox/homedash/internal/models"
)

type weatherSettingsRequest struct {
	DefaultLocation string   `json:"defaultLocation" validate:"required"`
	Lat             *float64 `json:"lat" validate:"omitempty,latitude"`
	Lon             *float64 `json:"lon" validate:"omitempty,longitude"`
}

type weatherSettingsResponse struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message"`
	Settings *models.WeatherSettings `json:"settings"`
}

func (s *Server) handleCurrentWeather(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	cur, err := s.weather.Current(r.Context(), userID, r.URL.Query().Get("location"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := auth.UserIDFromContext(r.Context())

	env, err := s.weather.Forecast(r.Context(), userID, q.Get("location"), parseDays(q.Get("days")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleForecastCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := auth.UserIDFromContext(r.Context())
	location := strings.TrimSpace(q.Get("location"))
	days := parseDays(q.Get("days"))

	key := fmt.Sprintf("q:%s|%d", strings.ToLower(location), days)
	if location == "" {
		key = userCardPrefix(userID) + strconv.Itoa(days)
	}
	if data, ok := s.cards.Get(key); ok {
		serveCard(w, data)
		return
	}

	env, err := s.weather.Forecast(r.Context(), userID, location, days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := imagegen.RenderForecastCard(env)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cards.Set(key, data)
	serveCard(w, data)
}

// userCardPrefix keys cards drawn for the user's stored location. Changing
// the location drops them.
func userCardPrefix(userID string) string {
	return "u:" + userID + "|"
}

func serveCard(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=600")
	if _, err := w.Write(data); err != nil {
		log.Printf("api: write forecast card: %v", err)
	}
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	env, err := s.weather.Alerts(r.Context(), userID, r.URL.Query().Get("location"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleSearchLocations(w http.ResponseWriter, r *http.Request) {
	matches, err := s.weather.SearchLocations(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleWeatherSettings(w http.ResponseWriter, r *http.Request) {
	var req weatherSettingsRequest
	if !decode(w, r, &req) {
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	settings, err := s.weather.UpdateSettings(r.Context(), userID, req.DefaultLocation, req.Lat, req.Lon)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.cards.DeletePrefix(userCardPrefix(userID))
	writeJSON(w, http.StatusOK, weatherSettingsResponse{
		Success:  true,
		Message:  "Wettereinstellungen erfolgreich aktualisiert",
		Settings: settings,
	})
}
