package api

import (
	"net/http"

	"github.com/lox/homedash/internal/auth"
	"github.com/lox/homedash/internal/banking"
	"github.com/lox/homedash/internal/devices"
	"github.com/lox/homedash/internal/models"
)

type dashboardUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type dashboardPreferences struct {
	BankingRefreshMinutes int `json:"bankingRefreshMinutes"`
	DevicesRefreshSeconds int `json:"devicesRefreshSeconds"`
}

type DashboardData struct {
	User        dashboardUser          `json:"user"`
	Preferences dashboardPreferences   `json:"preferences"`
	Weather     *models.CurrentWeather `json:"weather"`
	Banking     banking.Overview       `json:"banking"`
	SmartThings devices.Summary        `json:"smartThings"`
}

// handleDashboard assembles every panel in one response. A weather failure
// leaves weather null instead of failing the whole dashboard.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	user, err := s.store.GetUser(userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prefs, err := s.store.GetPreferences(userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DashboardData{
		User: dashboardUser{Name: user.Name, Email: user.Email},
		Preferences: dashboardPreferences{
			BankingRefreshMinutes: prefs.BankingRefreshMinutes,
			DevicesRefreshSeconds: prefs.DevicesRefreshSeconds,
		},
		Weather:     s.weather.Snapshot(r.Context(), userID),
		Banking:     s.banking.Overview(),
		SmartThings: s.devices.Summary(),
	})
}
