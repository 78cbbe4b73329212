package bus

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingHandler returns a Handler that logs every event it receives, for
// debugging and demonstration. name identifies the handler in log output.
func LoggingHandler(logger *zap.Logger, logLevel zapcore.Level, name string) Handler {
	return func(event string, args ...any) error {
		rendered := make([]string, len(args))
		for i, arg := range args {
			switch v := arg.(type) {
			case string:
				rendered[i] = v
			case []byte:
				rendered[i] = string(v)
			case nil:
				rendered[i] = "<nil>"
			default:
				rendered[i] = fmt.Sprintf("%v", v)
			}
		}

		logger.Log(logLevel, "Event received",
			zap.String("handler", name),
			zap.String("event", event),
			zap.Strings("args", rendered),
			zap.Int("argCount", len(args)),
		)
		return nil
	}
}
