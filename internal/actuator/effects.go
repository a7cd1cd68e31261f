package actuator

import (
	"log/slog"

	"botlink/internal/motor"
)

// Motors are the three actuators the effects address.
type Motors struct {
	Left  motor.Motor
	Right motor.Motor
	Arm   motor.Motor
}

func (m Motors) byID(id MotorID) motor.Motor {
	switch id {
	case LeftDrive:
		return m.Left
	case RightDrive:
		return m.Right
	case Arm:
		return m.Arm
	}
	return nil
}

// runEffect performs one reducer-emitted effect. Motor errors are logged
// and never fed back into the state.
func runEffect(motors Motors, fx Effect, logger *slog.Logger) {
	switch e := fx.(type) {
	case RunMotor:
		m := motors.byID(e.Motor)
		if m == nil {
			logger.Error("no motor configured", "motor", e.Motor)
			return
		}
		if err := m.Run(e.Speed); err != nil {
			logger.Error("motor run failed", "motor", e.Motor, "speed", e.Speed, "error", err)
		}

	case StopMotor:
		m := motors.byID(e.Motor)
		if m == nil {
			logger.Error("no motor configured", "motor", e.Motor)
			return
		}
		if err := m.Stop(); err != nil {
			logger.Error("motor stop failed", "motor", e.Motor, "error", err)
		}

	case Rejected:
		logger.Warn(e.Reason, "command", e.Command)

	default:
		logger.Warn("unhandled effect", "effect", fx.String())
	}
}
