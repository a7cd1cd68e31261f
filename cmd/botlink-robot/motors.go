package main

import (
	"log/slog"

	"botlink/internal/actuator"
	"botlink/internal/config"
	"botlink/internal/motor"
)

// openMotors builds the three actuators for the configured driver. The
// returned func releases any hardware.
func openMotors(cfg *config.Robot, logger *slog.Logger) (actuator.Motors, func(), error) {
	if cfg.Motors.Driver == config.DriverSim {
		logger.Info("using simulated motors")
		return actuator.Motors{
			Left:  motor.NewSim("left", logger),
			Right: motor.NewSim("right", logger),
			Arm:   motor.NewSim("arm", logger),
		}, func() {}, nil
	}

	drive, err := motor.OpenSabertooth(cfg.SabertoothConfig())
	if err != nil {
		return actuator.Motors{}, nil, err
	}
	left, err := drive.Channel(1)
	if err != nil {
		drive.Close()
		return actuator.Motors{}, nil, err
	}
	right, err := drive.Channel(2)
	if err != nil {
		drive.Close()
		return actuator.Motors{}, nil, err
	}

	arm, err := motor.OpenServo(cfg.ServoConfig())
	if err != nil {
		drive.Close()
		return actuator.Motors{}, nil, err
	}

	logger.Info("motors ready",
		"drive_port", cfg.Motors.Drive.Port,
		"drive_address", cfg.Motors.Drive.Address,
		"arm_port", cfg.Motors.Arm.Port,
		"arm_id", cfg.Motors.Arm.ID)

	closeAll := func() {
		if err := arm.Close(); err != nil {
			logger.Warn("closing arm servo", "error", err)
		}
		if err := drive.Close(); err != nil {
			logger.Warn("closing drive", "error", err)
		}
	}
	return actuator.Motors{Left: left, Right: right, Arm: arm}, closeAll, nil
}
