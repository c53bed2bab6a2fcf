package api

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/homedash/internal/auth"
	"github.com/lox/homedash/internal/banking"
	"github.com/lox/homedash/internal/devices"
	"github.com/lox/homedash/internal/imagegen"
	"github.com/lox/homedash/internal/metrics"
	"github.com/lox/homedash/internal/store"
	"github.com/lox/homedash/internal/weather"
)

const cardCacheTTL = 10 * time.Minute

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Store   *store.Store
	Auth    *auth.Service
	Issuer  *auth.Issuer
	Weather *weather.Service
	Banking *banking.Service
	Devices *devices.Registry
}

type Server struct {
	store   *store.Store
	auth    *auth.Service
	issuer  *auth.Issuer
	weather *weather.Service
	banking *banking.Service
	devices *devices.Registry
	cards   *imagegen.CardCache

	port        string
	corsOrigins []string
}

func NewServer(deps Deps, port string, corsOrigins []string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{
		store:       deps.Store,
		auth:        deps.Auth,
		issuer:      deps.Issuer,
		weather:     deps.Weather,
		banking:     deps.Banking,
		devices:     deps.Devices,
		cards:       imagegen.NewCardCache(cardCacheTTL),
		port:        port,
		corsOrigins: corsOrigins,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	protected := api.PathPrefix("").Subrouter()
	protected.Use(s.issuer.Middleware)

	protected.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)

	protected.HandleFunc("/weather", s.handleCurrentWeather).Methods(http.MethodGet)
	protected.HandleFunc("/weather/forecast", s.handleForecast).Methods(http.MethodGet)
	protected.HandleFunc("/weather/forecast/card.png", s.handleForecastCard).Methods(http.MethodGet)
	protected.HandleFunc("/weather/alerts", s.handleAlerts).Methods(http.MethodGet)
	protected.HandleFunc("/weather/locations", s.handleSearchLocations).Methods(http.MethodGet)
	protected.HandleFunc("/weather/settings", s.handleWeatherSettings).Methods(http.MethodPut)

	protected.HandleFunc("/banking/accounts", s.handleAccounts).Methods(http.MethodGet)
	protected.HandleFunc("/banking/accounts/{id}", s.handleAccount).Methods(http.MethodGet)
	protected.HandleFunc("/banking/accounts/{id}/transactions", s.handleTransactions).Methods(http.MethodGet)
	protected.HandleFunc("/banking/connect", s.handleBankConnect).Methods(http.MethodPost)
	protected.HandleFunc("/banking/connections/{id}", s.handleBankDisconnect).Methods(http.MethodDelete)
	protected.HandleFunc("/banking/settings", s.handleBankingSettings).Methods(http.MethodPut)

	protected.HandleFunc("/smartthings/devices", s.handleDevices).Methods(http.MethodGet)
	protected.HandleFunc("/smartthings/devices/{id}", s.handleDevice).Methods(http.MethodGet)
	protected.HandleFunc("/smartthings/devices/{id}/control", s.handleDeviceControl).Methods(http.MethodPost)
	protected.HandleFunc("/smartthings/devices/{id}/history", s.handleDeviceHistory).Methods(http.MethodGet)
	protected.HandleFunc("/smartthings/connect", s.handleDevicesConnect).Methods(http.MethodPost)
	protected.HandleFunc("/smartthings/disconnect", s.handleDevicesDisconnect).Methods(http.MethodDelete)
	protected.HandleFunc("/smartthings/settings", s.handleDevicesSettings).Methods(http.MethodPut)
	protected.HandleFunc("/smartthings/rules", s.handleRules).Methods(http.MethodGet)
	protected.HandleFunc("/smartthings/rules", s.handleCreateRule).Methods(http.MethodPost)
	protected.HandleFunc("/smartthings/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	protected.HandleFunc("/smartthings/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)

	protected.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)

	return handlers.CORS(
		handlers.AllowedOrigins(s.corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", auth.TokenHeader}),
	)(r)
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           handlers.LoggingHandler(os.Stdout, s.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("server: listening on :%s", s.port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by route template so ids do not explode the
// label space.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Smart Home API is running"))
}

type HealthStatus struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schemaVersion,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusInternalServerError, HealthStatus{Status: "error", Error: err.Error()})
		return
	}
	version, err := s.store.MigrationVersion()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, HealthStatus{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthStatus{Status: "ok", SchemaVersion: version})
}
