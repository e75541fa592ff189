// Package app performs hardware and network bring-up, then hands
// control to the cooperative loop until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"co2mon/internal/broker"
	"co2mon/internal/clock"
	"co2mon/internal/config"
	"co2mon/internal/display"
	"co2mon/internal/display/oled"
	"co2mon/internal/loop"
	"co2mon/internal/netwait"
	"co2mon/internal/sensor"
	"co2mon/internal/sensor/scd30"
	"co2mon/internal/ticks"
)

// waitEvery is the poll cadence of the boot barriers (link up, clock
// sync).
const waitEvery = time.Second

func Run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("initializing",
		"broker", fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort),
		"client_id", cfg.ClientID,
		"i2c_bus", cfg.I2CBus,
		"idx_co2", cfg.IdxCO2,
		"idx_temphum", cfg.IdxTempHum,
	)

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus) // default bus, usually /dev/i2c-1
	if err != nil {
		return fmt.Errorf("open i2c bus: %w", err)
	}
	defer bus.Close()

	dev, err := scd30.New(bus, cfg.SensorAddr)
	if err != nil {
		return fmt.Errorf("sensor probe: %w", err)
	}
	seconds := uint16(cfg.MeasurementInterval / time.Second)
	if err := dev.SetMeasurementInterval(seconds); err != nil {
		return fmt.Errorf("sensor measurement interval: %w", err)
	}
	offset := int(cfg.TemperatureOffsetC * 100)
	if err := dev.SetTemperatureOffset(offset); err != nil {
		return fmt.Errorf("sensor temperature offset: %w", err)
	}
	calibrating, err := setupCalibration(dev, cfg, log)
	if err != nil {
		return err
	}
	// The sensor keeps measuring across restarts; it is never stopped.
	if err := dev.StartContinuous(0); err != nil {
		return fmt.Errorf("sensor start: %w", err)
	}
	reader := sensor.NewReader(dev, log)

	var drv display.Driver = display.Nop{}
	if cfg.DisplayEnabled {
		panel, err := oled.New(bus)
		if err != nil {
			log.Warn("display init failed; continuing headless", "error", err)
		} else {
			defer panel.Halt()
			drv = panel
		}
	}
	comp := display.New(drv, log)

	link := netwait.NewIPLink(cfg.NetInterface)
	if err := netwait.WaitUp(ctx, link, waitEvery, log); err != nil {
		return err
	}
	src := clock.NewSystemSource()
	if err := clock.WaitSync(ctx, src, waitEvery, log); err != nil {
		return err
	}

	announcement := fmt.Sprintf("%s connected addr=%s session=%s",
		cfg.Hostname, link.LocalAddr(), uuid.NewString())
	client := broker.New(cfg, broker.NewPahoTransport(cfg, log), announcement, log)
	defer client.Close()

	sched := loop.New(loop.Deps{
		Now:          ticks.Now,
		Sampler:      reader,
		Publisher:    client,
		Display:      comp,
		Clock:        src,
		Link:         link,
		Log:          log,
		Calibrating:  calibrating,
		IdxCO2:       cfg.IdxCO2,
		IdxTempHum:   cfg.IdxTempHum,
		PollInterval: cfg.PollInterval,
		ClockRefresh: cfg.ClockRefresh,
		IdleSleep:    cfg.IdleSleep,
	})
	return sched.Run(ctx)
}

// setupCalibration applies the self-calibration policy. A high level on
// the configured input pin enables sensor self-calibration in addition
// to the static setting; the returned probe drives the display banner
// while the pin stays high. Without a pin the static setting applies
// and no banner is ever shown.
func setupCalibration(dev *scd30.Dev, cfg config.Config, log *slog.Logger) (func() bool, error) {
	if cfg.CalibrationPin == "" {
		if err := dev.SetAutoCalibration(cfg.AutoCalibration); err != nil {
			return nil, fmt.Errorf("sensor auto-calibration: %w", err)
		}
		return nil, nil
	}
	pin := gpioreg.ByName(cfg.CalibrationPin)
	if pin == nil {
		return nil, fmt.Errorf("calibration pin %q not found", cfg.CalibrationPin)
	}
	if err := pin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("calibration pin %q: %w", cfg.CalibrationPin, err)
	}
	enable := cfg.AutoCalibration || pin.Read() == gpio.High
	if err := dev.SetAutoCalibration(enable); err != nil {
		return nil, fmt.Errorf("sensor auto-calibration: %w", err)
	}
	log.Info("auto-calibration configured", "enabled", enable, "pin", cfg.CalibrationPin)
	return func() bool { return pin.Read() == gpio.High }, nil
}
