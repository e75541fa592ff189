package telemetry

import "co2mon/internal/sensor"

// Detector holds the last published values per metric group and flags
// readings that differ from them. Temperature and humidity form one
// group because the consumer stores them as a single composite device;
// CO2 is its own group.
//
// Comparisons are exact equality on the rounded representations a
// Snapshot carries. The zero value has never-published baselines, so
// the first reading is always eligible.
type Detector struct {
	temperature float64
	humidity    float64
	co2         int
}

// Changed reports, per metric group, whether s differs from the last
// committed baseline.
func (d *Detector) Changed(s sensor.Snapshot) (pair, co2 bool) {
	pair = s.Temperature != d.temperature || s.Humidity != d.humidity
	co2 = s.CO2 != d.co2
	return pair, co2
}

// CommitPair records s as the published temperature/humidity baseline.
// Call only after the record was actually delivered.
func (d *Detector) CommitPair(s sensor.Snapshot) {
	d.temperature = s.Temperature
	d.humidity = s.Humidity
}

// CommitCO2 records s as the published CO2 baseline. Call only after
// the record was actually delivered.
func (d *Detector) CommitCO2(s sensor.Snapshot) {
	d.co2 = s.CO2
}
