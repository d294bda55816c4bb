package hostfunc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// NewLog returns a host function that writes guest log lines through the
// host logger, tagged with the owning module's name. Guests call it as
// log(level, message).
func NewLog(logger *zap.Logger, module string) Func {
	scoped := logger.With(zap.String("module", module))

	return func(ctx context.Context, args map[string]any) (any, error) {
		msg, ok := args["message"].(string)
		if !ok {
			return nil, errors.New("message required")
		}

		level, _ := args["level"].(string)
		switch level {
		case "debug":
			scoped.Debug(msg)
		case "warn":
			scoped.Warn(msg)
		case "error":
			scoped.Error(msg)
		default:
			scoped.Info(msg)
		}
		return nil, nil
	}
}

// TimeNow reports the host clock as fractional seconds since the epoch.
func TimeNow(ctx context.Context, args map[string]any) (any, error) {
	return float64(time.Now().UnixNano()) / 1e9, nil
}
