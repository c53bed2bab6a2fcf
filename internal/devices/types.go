package devices

import "time"

type DeviceType string

const (
	TypeLight      DeviceType = "light"
	TypeThermostat DeviceType = "thermostat"
	TypeDoor       DeviceType = "door"
	TypeSecurity   DeviceType = "security"
)

const (
	CmdSetPower       = "setPower"
	CmdSetBrightness  = "setBrightness"
	CmdSetTemperature = "setTemperature"
	CmdSetState       = "setState"
)

// Status holds the controllable state of a device. Only the fields that
// apply to the device's type are set.
type Status struct {
	Power            string   `json:"power,omitempty"`
	Brightness       *int     `json:"brightness,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	State            string   `json:"state,omitempty"`
	Color            string   `json:"color,omitempty"`
	ColorTemperature int      `json:"colorTemperature,omitempty"`
}

type Device struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Type            DeviceType `json:"type"`
	Status          Status     `json:"status"`
	Location        string     `json:"location,omitempty"`
	Manufacturer    string     `json:"manufacturer,omitempty"`
	Model           string     `json:"model,omitempty"`
	FirmwareVersion string     `json:"firmwareVersion,omitempty"`
	LastUpdate      time.Time  `json:"lastUpdate"`
}

// Active reports whether the device is switched on, open or armed.
func (d Device) Active() bool {
	return d.Status.Power == "on" || d.Status.State == "open" || d.Status.State == "armed"
}

func (d Device) clone() Device {
	if d.Status.Brightness != nil {
		v := *d.Status.Brightness
		d.Status.Brightness = &v
	}
	if d.Status.Temperature != nil {
		v := *d.Status.Temperature
		d.Status.Temperature = &v
	}
	return d
}

type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Changes   map[string]any `json:"changes"`
}

type Trigger struct {
	Type string `json:"type" validate:"required,oneof=time device sunrise sunset"`
	Time string `json:"time,omitempty"`
}

type Action struct {
	DeviceID string `json:"deviceId" validate:"required"`
	Command  string `json:"command" validate:"required"`
	Value    any    `json:"value"`
}

type Rule struct {
	ID      string  `json:"id"`
	Name    string  `json:"name" validate:"required"`
	Trigger Trigger `json:"trigger"`
	Action  Action  `json:"action"`
	Enabled bool    `json:"enabled"`
}

// Command is published to the broker for every applied control request.
type Command struct {
	DeviceID string    `json:"deviceId"`
	Command  string    `json:"command"`
	Value    any       `json:"value"`
	At       time.Time `json:"at"`
}

// Summary is the device section of the dashboard.
type Summary struct {
	ActiveDevices int      `json:"activeDevices"`
	TotalDevices  int      `json:"totalDevices"`
	Devices       []Device `json:"devices"`
}
