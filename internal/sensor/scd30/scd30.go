// Package scd30 drives a Sensirion SCD30 CO2/temperature/humidity
// sensor over I²C. It implements the sensor.Device contract.
//
// The SCD30 does not tolerate repeated-start reads, so every command is
// written in its own transaction and the response fetched after the
// 3 ms processing window the datasheet requires. All multi-byte words
// are big-endian and every word is followed by a CRC-8 byte
// (polynomial 0x31, init 0xFF).
package scd30

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3/i2c"

	"co2mon/internal/sensor"
)

// DefaultAddr is the SCD30's fixed I²C address.
const DefaultAddr = 0x61

const (
	cmdStartContinuous     = 0x0010
	cmdStopContinuous      = 0x0104
	cmdMeasurementInterval = 0x4600
	cmdDataReady           = 0x0202
	cmdReadMeasurement     = 0x0300
	cmdAutoSelfCalibration = 0x5306
	cmdTemperatureOffset   = 0x5403
	cmdFirmwareVersion     = 0xD100
	cmdSoftReset           = 0xD304
)

// readDelay is the wait between writing a command and reading its
// response, per the datasheet's interface description.
const readDelay = 3 * time.Millisecond

// Dev is an open handle to an SCD30.
type Dev struct {
	c i2c.Dev
}

// New probes the sensor at addr on the given bus and returns a handle.
func New(bus i2c.Bus, addr uint16) (*Dev, error) {
	if addr == 0 {
		addr = DefaultAddr
	}
	d := &Dev{c: i2c.Dev{Bus: bus, Addr: addr}}
	if _, _, err := d.FirmwareVersion(); err != nil {
		return nil, fmt.Errorf("scd30: probe: %w", err)
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("scd30{%s}", d.c.String())
}

// StartContinuous begins periodic measurement. ambientPressureMbar
// compensates for altitude; zero disables compensation.
func (d *Dev) StartContinuous(ambientPressureMbar uint16) error {
	if ambientPressureMbar != 0 && (ambientPressureMbar < 700 || ambientPressureMbar > 1400) {
		return fmt.Errorf("scd30: ambient pressure %d mbar out of range 700-1400", ambientPressureMbar)
	}
	return d.writeCommand(cmdStartContinuous, ambientPressureMbar)
}

// StopContinuous halts periodic measurement.
func (d *Dev) StopContinuous() error {
	return d.writeBareCommand(cmdStopContinuous)
}

// SetMeasurementInterval sets the sensor's internal sampling period.
func (d *Dev) SetMeasurementInterval(seconds uint16) error {
	if seconds < 2 || seconds > 1800 {
		return fmt.Errorf("scd30: measurement interval %ds out of range 2-1800", seconds)
	}
	return d.writeCommand(cmdMeasurementInterval, seconds)
}

// DataReady reports whether an unread measurement is waiting.
func (d *Dev) DataReady() (bool, error) {
	w, err := d.readWord(cmdDataReady)
	if err != nil {
		return false, fmt.Errorf("scd30: data ready: %w", err)
	}
	return w == 1, nil
}

// Read fetches the waiting measurement triplet. Only call after
// DataReady reported true; otherwise the sensor repeats stale words.
func (d *Dev) Read() (sensor.Measurement, error) {
	var buf [18]byte
	if err := d.readResponse(cmdReadMeasurement, buf[:]); err != nil {
		return sensor.Measurement{}, fmt.Errorf("scd30: read measurement: %w", err)
	}

	co2, err := decodeFloat(buf[0:6])
	if err != nil {
		return sensor.Measurement{}, fmt.Errorf("scd30: co2 word: %w", err)
	}
	temp, err := decodeFloat(buf[6:12])
	if err != nil {
		return sensor.Measurement{}, fmt.Errorf("scd30: temperature word: %w", err)
	}
	hum, err := decodeFloat(buf[12:18])
	if err != nil {
		return sensor.Measurement{}, fmt.Errorf("scd30: humidity word: %w", err)
	}

	return sensor.Measurement{CO2: co2, Temperature: temp, Humidity: hum}, nil
}

// SetTemperatureOffset compensates for heat from nearby electronics.
// The offset is in hundredths of a degree and cannot be negative; the
// sensor only subtracts.
func (d *Dev) SetTemperatureOffset(centiDegrees int) error {
	if centiDegrees < 0 || centiDegrees > math.MaxUint16 {
		return fmt.Errorf("scd30: temperature offset %d out of range 0-%d", centiDegrees, math.MaxUint16)
	}
	return d.writeCommand(cmdTemperatureOffset, uint16(centiDegrees))
}

// SetAutoCalibration enables or disables the automatic self-calibration
// algorithm. ASC needs regular exposure to fresh air to converge.
func (d *Dev) SetAutoCalibration(on bool) error {
	var v uint16
	if on {
		v = 1
	}
	return d.writeCommand(cmdAutoSelfCalibration, v)
}

// AutoCalibration reports whether self-calibration is active.
func (d *Dev) AutoCalibration() (bool, error) {
	w, err := d.readWord(cmdAutoSelfCalibration)
	if err != nil {
		return false, fmt.Errorf("scd30: auto calibration: %w", err)
	}
	return w == 1, nil
}

// FirmwareVersion returns the sensor's firmware revision.
func (d *Dev) FirmwareVersion() (major, minor uint8, err error) {
	w, err := d.readWord(cmdFirmwareVersion)
	if err != nil {
		return 0, 0, err
	}
	return uint8(w >> 8), uint8(w & 0xFF), nil
}

// SoftReset restarts the sensor without cutting power.
func (d *Dev) SoftReset() error {
	return d.writeBareCommand(cmdSoftReset)
}

func (d *Dev) writeBareCommand(cmd uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], cmd)
	if err := d.c.Tx(buf[:], nil); err != nil {
		return fmt.Errorf("scd30: command %#04x: %w", cmd, err)
	}
	return nil
}

func (d *Dev) writeCommand(cmd, arg uint16) error {
	var buf [5]byte
	binary.BigEndian.PutUint16(buf[0:2], cmd)
	binary.BigEndian.PutUint16(buf[2:4], arg)
	buf[4] = crc8(buf[2:4])
	if err := d.c.Tx(buf[:], nil); err != nil {
		return fmt.Errorf("scd30: command %#04x: %w", cmd, err)
	}
	return nil
}

// readResponse writes cmd, waits out the processing window and reads
// len(buf) response bytes in a separate transaction.
func (d *Dev) readResponse(cmd uint16, buf []byte) error {
	if err := d.writeBareCommand(cmd); err != nil {
		return err
	}
	time.Sleep(readDelay)
	if err := d.c.Tx(nil, buf); err != nil {
		return fmt.Errorf("scd30: response %#04x: %w", cmd, err)
	}
	return nil
}

func (d *Dev) readWord(cmd uint16) (uint16, error) {
	var buf [3]byte
	if err := d.readResponse(cmd, buf[:]); err != nil {
		return 0, err
	}
	if crc8(buf[0:2]) != buf[2] {
		return 0, fmt.Errorf("scd30: response %#04x: crc mismatch", cmd)
	}
	return binary.BigEndian.Uint16(buf[0:2]), nil
}

// decodeFloat turns a 6-byte [msw crc lsw crc] sequence into a float.
func decodeFloat(b []byte) (float64, error) {
	if crc8(b[0:2]) != b[2] || crc8(b[3:5]) != b[5] {
		return 0, fmt.Errorf("crc mismatch")
	}
	bits := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[3])<<8 | uint32(b[4])
	return float64(math.Float32frombits(bits)), nil
}

// crc8 computes the Sensirion checksum over a word.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

var _ sensor.Device = (*Dev)(nil)
