// Package sensor defines the environmental sensor contract and the
// rounding rules applied to raw readings before anything downstream
// (change detection, encoding, display) sees them.
package sensor

import (
	"fmt"
	"log/slog"
	"math"
)

// Measurement is one raw triplet as delivered by the sensor bus.
type Measurement struct {
	CO2         float64 // ppm
	Temperature float64 // °C
	Humidity    float64 // %RH
}

// Snapshot is a rounded reading as used by the rest of the pipeline.
// Temperature and Humidity carry one decimal of resolution; CO2 is a
// whole ppm value. Available is false when the sensor had nothing new.
type Snapshot struct {
	CO2         int
	Temperature float64
	Humidity    float64
	Available   bool
}

// Device is the sensor bus collaborator. Implementations talk to real
// hardware; tests substitute fakes.
type Device interface {
	// DataReady reports whether a fresh measurement is waiting. It must
	// be cheap and non-blocking.
	DataReady() (bool, error)
	// Read fetches the waiting measurement. Calling Read without a
	// preceding positive DataReady is a caller bug; the result is
	// undefined.
	Read() (Measurement, error)
	SetTemperatureOffset(centiDegrees int) error
	SetAutoCalibration(on bool) error
	AutoCalibration() (bool, error)
}

// Reader gates access to a Device and normalizes its raw readings.
type Reader struct {
	dev Device
	log *slog.Logger
}

func NewReader(dev Device, log *slog.Logger) *Reader {
	return &Reader{dev: dev, log: log.With("subsys", "sensor")}
}

// Available reports whether a fresh reading can be fetched right now.
// Bus errors are absorbed and reported as "not available"; the next
// poll retries naturally.
func (r *Reader) Available() bool {
	ready, err := r.dev.DataReady()
	if err != nil {
		r.log.Warn("data-ready check failed", "error", err)
		return false
	}
	return ready
}

// Read fetches and rounds the current measurement. Callers must gate on
// Available first.
func (r *Reader) Read() (Snapshot, error) {
	m, err := r.dev.Read()
	if err != nil {
		return Snapshot{}, fmt.Errorf("sensor read: %w", err)
	}
	return Snapshot{
		CO2:         int(m.CO2),
		Temperature: RoundTenth(m.Temperature),
		Humidity:    RoundTenth(m.Humidity),
		Available:   true,
	}, nil
}

// RoundTenth rounds to one decimal place with round-half-up semantics
// on the scaled value: floor(x*10 + 0.5) / 10. Downstream equality
// checks compare these rounded values, so the exact rule matters: a
// negative value sitting on the .05 boundary rounds toward positive
// infinity (RoundTenth(-1.25) == -1.2).
func RoundTenth(x float64) float64 {
	return math.Floor(x*10+0.5) / 10
}
