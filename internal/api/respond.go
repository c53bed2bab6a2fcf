package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lox/homedash/internal/auth"
	"github.com/lox/homedash/internal/banking"
	"github.com/lox/homedash/internal/devices"
	"github.com/lox/homedash/internal/forecast"
	"github.com/lox/homedash/internal/openweather"
	"github.com/lox/homedash/internal/store"
	"github.com/lox/homedash/internal/weather"
)

var validate = validator.New()

type msgResponse struct {
	Msg string `json:"msg"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, msgResponse{Msg: msg})
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, openweather.ErrLocationNotFound):
		writeMsg(w, http.StatusNotFound, "Standort nicht gefunden")
	case errors.Is(err, weather.ErrQueryRequired):
		writeMsg(w, http.StatusBadRequest, "Suchbegriff erforderlich")
	case errors.Is(err, weather.ErrLocationRequired):
		writeMsg(w, http.StatusBadRequest, "Standardstandort erforderlich")
	case errors.Is(err, forecast.ErrInvalidArgument):
		writeMsg(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUserExists):
		writeMsg(w, http.StatusBadRequest, "Benutzer existiert bereits")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeMsg(w, http.StatusBadRequest, "Ungültige Anmeldedaten")
	case errors.Is(err, store.ErrNotFound):
		writeMsg(w, http.StatusNotFound, "Benutzer nicht gefunden")
	case errors.Is(err, banking.ErrAccountNotFound):
		writeMsg(w, http.StatusNotFound, "Konto nicht gefunden")
	case errors.Is(err, banking.ErrConnectionNotFound):
		writeMsg(w, http.StatusNotFound, "Bankverbindung nicht gefunden")
	case errors.Is(err, devices.ErrDeviceNotFound):
		writeMsg(w, http.StatusNotFound, "Gerät nicht gefunden")
	case errors.Is(err, devices.ErrRuleNotFound):
		writeMsg(w, http.StatusNotFound, "Regel nicht gefunden")
	case errors.Is(err, devices.ErrUnknownCommand),
		errors.Is(err, devices.ErrUnsupportedCommand),
		errors.Is(err, devices.ErrInvalidValue):
		writeMsg(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "Server Error", http.StatusInternalServerError)
	}
}

// decode reads a JSON body into v and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMsg(w, http.StatusBadRequest, "Ungültiger Request-Body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeMsg(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Ungültiger Wert für %s (%s)", fe.Field(), fe.Tag())
	}
	return err.Error()
}

// parseDays reads the days query parameter like JavaScript's parseInt: the
// leading integer is used and anything after it ignored, so "3abc" and "2.7"
// give 3 and 2. Missing, non-numeric and zero values fall back to
// forecast.DefaultDays; negative values are passed on and rejected
// downstream.
func parseDays(raw string) int {
	n, ok := leadingInt(raw)
	if !ok || n == 0 {
		return forecast.DefaultDays
	}
	return n
}

// leadingInt parses an optionally signed run of digits at the start of s,
// after leading whitespace. Values beyond the int range are clamped.
func leadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\n\r")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return n, true
}
