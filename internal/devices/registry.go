// Package devices keeps an in-memory model of the home's smart devices and
// automation rules. Control requests update the model and, when a publisher
// is configured, are forwarded over MQTT.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lox/homedash/internal/metrics"
)

const maxHistory = 50

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrRuleNotFound       = errors.New("rule not found")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrUnsupportedCommand = errors.New("command not supported by device")
	ErrInvalidValue       = errors.New("invalid command value")
)

type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*Device
	order     []string
	history   map[string][]HistoryEntry
	rules     map[string]*Rule
	ruleOrder []string
	connected bool

	publisher Publisher
	now       func() time.Time
}

// NewRegistry returns a registry seeded with the demo household. publisher
// may be nil.
func NewRegistry(publisher Publisher) *Registry {
	r := &Registry{
		devices:   make(map[string]*Device),
		history:   make(map[string][]HistoryEntry),
		rules:     make(map[string]*Rule),
		publisher: publisher,
		now:       time.Now,
	}
	r.seed()
	return r
}

func (r *Registry) seed() {
	brightness := 80
	temperature := 21.5
	updated := time.Date(2023, 4, 1, 15, 22, 5, 0, time.UTC)

	for _, d := range []Device{
		{
			ID:   "d1",
			Name: "Wohnzimmer Licht",
			Type: TypeLight,
			Status: Status{
				Power:            "on",
				Brightness:       &brightness,
				Color:            "#FFFFFF",
				ColorTemperature: 2700,
			},
			Location:        "Wohnzimmer",
			Manufacturer:    "Philips",
			Model:           "Hue White and Color",
			FirmwareVersion: "1.50.2",
			LastUpdate:      updated,
		},
		{ID: "d2", Name: "Heizung", Type: TypeThermostat, Status: Status{Power: "on", Temperature: &temperature}, Location: "Wohnzimmer", LastUpdate: updated},
		{ID: "d3", Name: "Haustür", Type: TypeDoor, Status: Status{State: "closed"}, Location: "Flur", LastUpdate: updated},
		{ID: "d4", Name: "Alarm", Type: TypeSecurity, Status: Status{State: "disarmed"}, Location: "Flur", LastUpdate: updated},
	} {
		d := d
		r.devices[d.ID] = &d
		r.order = append(r.order, d.ID)
	}

	r.history["d1"] = []HistoryEntry{
		{Timestamp: time.Date(2023, 4, 1, 12, 15, 30, 0, time.UTC), Event: "stateChange", Changes: map[string]any{"power": "off"}},
		{Timestamp: updated, Event: "stateChange", Changes: map[string]any{"power": "on"}},
	}

	r.rules["r1"] = &Rule{
		ID:      "r1",
		Name:    "Licht bei Dunkelheit einschalten",
		Trigger: Trigger{Type: "time", Time: "19:30:00"},
		Action:  Action{DeviceID: "d1", Command: CmdSetPower, Value: "on"},
		Enabled: true,
	}
	r.ruleOrder = append(r.ruleOrder, "r1")
}

func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id].clone())
	}
	return out
}

func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	c := d.clone()
	return &c, nil
}

// Control applies command to the device and returns its new state.
func (r *Registry) Control(ctx context.Context, id, command string, value any) (*Device, error) {
	updated, err := r.apply(id, command, value)
	if err != nil {
		metrics.DeviceCommandsTotal.WithLabelValues(command, "rejected").Inc()
		return nil, err
	}
	metrics.DeviceCommandsTotal.WithLabelValues(command, "applied").Inc()

	if r.publisher != nil {
		cmd := Command{DeviceID: id, Command: command, Value: value, At: updated.LastUpdate}
		if err := r.publisher.Publish(ctx, cmd); err != nil {
			log.Printf("devices: publish %s to %s: %v", command, id, err)
			metrics.DeviceCommandsTotal.WithLabelValues(command, "publish_failed").Inc()
		}
	}
	return updated, nil
}

func (r *Registry) apply(id, command string, value any) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	changes, err := applyCommand(d, command, value)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	d.LastUpdate = now
	r.appendHistory(id, HistoryEntry{Timestamp: now, Event: "stateChange", Changes: changes})

	c := d.clone()
	return &c, nil
}

func applyCommand(d *Device, command string, value any) (map[string]any, error) {
	switch command {
	case CmdSetPower:
		power, err := powerValue(value)
		if err != nil {
			return nil, err
		}
		if d.Status.Power == "" {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, command, d.Type)
		}
		d.Status.Power = power
		return map[string]any{"power": power}, nil

	case CmdSetBrightness:
		if d.Status.Brightness == nil {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, command, d.Type)
		}
		n, ok := numberValue(value)
		if !ok || n < 0 || n > 100 || n != math.Trunc(n) {
			return nil, fmt.Errorf("%w: brightness must be an integer 0-100, got %v", ErrInvalidValue, value)
		}
		b := int(n)
		d.Status.Brightness = &b
		return map[string]any{"brightness": b}, nil

	case CmdSetTemperature:
		if d.Status.Temperature == nil {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, command, d.Type)
		}
		n, ok := numberValue(value)
		if !ok {
			return nil, fmt.Errorf("%w: temperature must be a number, got %v", ErrInvalidValue, value)
		}
		d.Status.Temperature = &n
		return map[string]any{"temperature": n}, nil

	case CmdSetState:
		if d.Status.State == "" {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedCommand, command, d.Type)
		}
		state, ok := value.(string)
		if !ok || !validState(d.Type, state) {
			return nil, fmt.Errorf("%w: state %v not valid for %s", ErrInvalidValue, value, d.Type)
		}
		d.Status.State = state
		return map[string]any{"state": state}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}

func powerValue(v any) (string, error) {
	switch p := v.(type) {
	case string:
		if p == "on" || p == "off" {
			return p, nil
		}
	case bool:
		if p {
			return "on", nil
		}
		return "off", nil
	}
	return "", fmt.Errorf("%w: power must be on or off, got %v", ErrInvalidValue, v)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	}
	return 0, false
}

func validState(t DeviceType, state string) bool {
	switch t {
	case TypeDoor:
		return state == "open" || state == "closed" || state == "locked"
	case TypeSecurity:
		return state == "armed" || state == "disarmed"
	}
	return state != ""
}

func (r *Registry) appendHistory(id string, e HistoryEntry) {
	h := append(r.history[id], e)
	if len(h) > maxHistory {
		h = h[len(h)-maxHistory:]
	}
	r.history[id] = h
}

// History returns the device's state changes, newest first.
func (r *Registry) History(id string) ([]HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.devices[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	h := r.history[id]
	out := make([]HistoryEntry, 0, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (r *Registry) Summary() Summary {
	devices := r.List()
	s := Summary{TotalDevices: len(devices), Devices: devices}
	for _, d := range devices {
		if d.Active() {
			s.ActiveDevices++
		}
	}
	return s
}

// Connect marks the SmartThings account as linked.
func (r *Registry) Connect(accessToken string) error {
	if accessToken == "" {
		return fmt.Errorf("%w: access token required", ErrInvalidValue)
	}
	r.mu.Lock()
	r.connected = true
	r.mu.Unlock()
	return nil
}

func (r *Registry) Disconnect() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
}

func (r *Registry) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.ruleOrder))
	for _, id := range r.ruleOrder {
		out = append(out, *r.rules[id])
	}
	return out
}

func (r *Registry) CreateRule(rule Rule) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkAction(rule.Action); err != nil {
		return nil, err
	}
	rule.ID = uuid.NewString()
	rule.Enabled = true
	r.rules[rule.ID] = &rule
	r.ruleOrder = append(r.ruleOrder, rule.ID)

	out := rule
	return &out, nil
}

func (r *Registry) UpdateRule(id string, rule Rule) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	if err := r.checkAction(rule.Action); err != nil {
		return nil, err
	}
	rule.ID = id
	r.rules[id] = &rule

	out := rule
	return &out, nil
}

func (r *Registry) DeleteRule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	delete(r.rules, id)
	for i, rid := range r.ruleOrder {
		if rid == id {
			r.ruleOrder = append(r.ruleOrder[:i], r.ruleOrder[i+1:]...)
			break
		}
	}
	return nil
}

// checkAction validates a rule action against a scratch copy of the target
// device. Callers hold r.mu.
func (r *Registry) checkAction(a Action) error {
	d, ok := r.devices[a.DeviceID]
	if !ok {
		return fmt.Errorf("%w: rule targets unknown device %q", ErrInvalidValue, a.DeviceID)
	}
	scratch := d.clone()
	_, err := applyCommand(&scratch, a.Command, a.Value)
	return err
}
