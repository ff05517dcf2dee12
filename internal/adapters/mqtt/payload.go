package mqtt

import (
	"math"
	"time"

	"github.com/okian/meterbridge/internal/domain/model"
)

const timestampLayout = "2006-01-02 15:04:05"

// State is the retained message Home Assistant reads the day sensors from.
type State struct {
	HourlyData []float64 `json:"hourly_data"`
	TotalKWh   float64   `json:"total_kwh"`
	Date       string    `json:"date"`
	Timestamp  string    `json:"timestamp"`
}

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// sensorConfig is a Home Assistant MQTT discovery document.
type sensorConfig struct {
	Name                string `json:"name"`
	StateTopic          string `json:"state_topic"`
	ValueTemplate       string `json:"value_template"`
	UnitOfMeasurement   string `json:"unit_of_measurement,omitempty"`
	DeviceClass         string `json:"device_class,omitempty"`
	StateClass          string `json:"state_class,omitempty"`
	Icon                string `json:"icon,omitempty"`
	UniqueID            string `json:"unique_id"`
	Device              device `json:"device"`
	JSONAttributesTopic string `json:"json_attributes_topic,omitempty"`
}

// NewState summarizes the readings of day d. Readings of other days are
// ignored. The total is rounded to two decimals.
func NewState(d model.Day, readings []model.Reading, loc *time.Location, now time.Time) State {
	if loc == nil {
		loc = time.UTC
	}
	st := State{
		HourlyData: make([]float64, 0, len(readings)),
		Date:       d.String(),
		Timestamp:  now.In(loc).Format(timestampLayout),
	}
	var total float64
	for _, r := range readings {
		if r.Day(loc) != d {
			continue
		}
		st.HourlyData = append(st.HourlyData, r.Value)
		total += r.Value
	}
	st.TotalKWh = math.Round(total*100) / 100
	return st
}

func (p *Publisher) device() device {
	id := "te_default"
	if p.meteringPoint != "" {
		id = "te_" + p.meteringPoint
	}
	return device{
		Identifiers:  []string{id},
		Name:         p.deviceName,
		Manufacturer: p.deviceName,
		Model:        "meterbridge",
	}
}

// discovery returns the sensor configs keyed by their topic.
func (p *Publisher) discovery() map[string]sensorConfig {
	state := p.StateTopic()
	dev := p.device()
	return map[string]sensorConfig{
		p.configTopic("total"): {
			Name:                "Yesterday Total Consumption",
			StateTopic:          state,
			ValueTemplate:       "{{ value_json.total_kwh }}",
			UnitOfMeasurement:   "kWh",
			DeviceClass:         "energy",
			StateClass:          "total",
			UniqueID:            "te_total_" + p.meteringPoint,
			Device:              dev,
			JSONAttributesTopic: state,
		},
		p.configTopic("date"): {
			Name:          "Consumption Data Date",
			StateTopic:    state,
			ValueTemplate: "{{ value_json.date }}",
			Icon:          "mdi:calendar",
			UniqueID:      "te_date_" + p.meteringPoint,
			Device:        dev,
		},
	}
}
