package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lox/homedash/internal/auth"
	"github.com/lox/homedash/internal/devices"
)

type controlRequest struct {
	Command string `json:"command" validate:"required"`
	Value   any    `json:"value"`
}

type controlResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	DeviceID  string         `json:"deviceId"`
	NewStatus devices.Status `json:"newStatus"`
}

type devicesConnectRequest struct {
	AccessToken string `json:"accessToken" validate:"required"`
}

type devicesSettingsRequest struct {
	RefreshRate int `json:"refreshRate" validate:"required,min=5,max=3600"`
}

type devicesResponse struct {
	Devices []devices.Device `json:"devices"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, devicesResponse{Devices: s.devices.List()})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.devices.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeviceControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if !decode(w, r, &req) {
		return
	}

	id := mux.Vars(r)["id"]
	d, err := s.devices.Control(r.Context(), id, req.Command, req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{
		Success:   true,
		Message:   fmt.Sprintf("Befehl %s mit Wert %v erfolgreich ausgeführt", req.Command, req.Value),
		DeviceID:  id,
		NewStatus: d.Status,
	})
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.devices.History(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleDevicesConnect(w http.ResponseWriter, r *http.Request) {
	var req devicesConnectRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.devices.Connect(req.AccessToken); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "SmartThings-Account erfolgreich verbunden"})
}

func (s *Server) handleDevicesDisconnect(w http.ResponseWriter, r *http.Request) {
	s.devices.Disconnect()
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "SmartThings-Account erfolgreich getrennt"})
}

func (s *Server) handleDevicesSettings(w http.ResponseWriter, r *http.Request) {
	var req devicesSettingsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.store.UpdateDeviceRefresh(auth.UserIDFromContext(r.Context()), req.RefreshRate); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Einstellungen erfolgreich aktualisiert"})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.devices.Rules())
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule devices.Rule
	if !decode(w, r, &rule) {
		return
	}
	created, err := s.devices.CreateRule(rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule devices.Rule
	if !decode(w, r, &rule) {
		return
	}
	updated, err := s.devices.UpdateRule(mux.Vars(r)["id"], rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.devices.DeleteRule(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "Regel erfolgreich gelöscht"})
}
