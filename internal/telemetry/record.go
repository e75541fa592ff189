// Package telemetry turns sensor snapshots into Domoticz device
// records and decides when a reading is worth publishing.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
)

// MaxEncodedLen is the hard ceiling on a serialized record. Records
// that would exceed it are rejected, never truncated.
const MaxEncodedLen = 128

// humidityStatusComfortable is the fixed humidity status flag the
// Domoticz temp+hum schema expects as the third svalue field.
const humidityStatusComfortable = 1

// Record is one update destined for a single virtual device.
type Record struct {
	// Name labels the record in logs.
	Name string
	// DeviceID is the consumer-side device index (Domoticz idx).
	DeviceID int
	// NValue carries integer-level readings (CO2 ppm).
	NValue int
	// SValue carries text-encoded readings (temp/hum triplet).
	SValue string
}

type devicePayload struct {
	Command string `json:"command"`
	Idx     int    `json:"idx"`
	NValue  int    `json:"nvalue"`
	SValue  string `json:"svalue"`
}

// Encode serializes the record as a Domoticz udevice payload. It fails
// if the result exceeds MaxEncodedLen.
func (r Record) Encode() ([]byte, error) {
	b, err := json.Marshal(devicePayload{
		Command: "udevice",
		Idx:     r.DeviceID,
		NValue:  r.NValue,
		SValue:  r.SValue,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: encode %s: %w", r.Name, err)
	}
	if len(b) > MaxEncodedLen {
		return nil, fmt.Errorf("telemetry: encode %s: %d bytes exceeds %d byte limit", r.Name, len(b), MaxEncodedLen)
	}
	return b, nil
}

// NewTempHumRecord builds the combined temperature/humidity record.
// Temperature keeps its one-decimal form; humidity is sent as a whole
// percent, rounded half-up.
func NewTempHumRecord(deviceID int, temperature, humidity float64) Record {
	return Record{
		Name:     "temp+hum",
		DeviceID: deviceID,
		SValue:   fmt.Sprintf("%.1f;%d;%d", temperature, humidityPercent(humidity), humidityStatusComfortable),
	}
}

// NewCO2Record builds the CO2 concentration record. The ppm value
// rides in nvalue per the air-quality device schema.
func NewCO2Record(deviceID, ppm int) Record {
	return Record{
		Name:     "co2",
		DeviceID: deviceID,
		NValue:   ppm,
	}
}

func humidityPercent(h float64) int {
	return int(math.Floor(h + 0.5))
}
