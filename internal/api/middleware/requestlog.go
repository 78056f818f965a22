package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger logs every request through zerolog. Requests to quietPaths
// are logged at debug level so probes do not flood the log.
func RequestLogger(logger zerolog.Logger, quietPaths ...string) echo.MiddlewareFunc {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			var ev *zerolog.Event
			switch {
			case v.Error != nil:
				ev = logger.Error().Err(v.Error)
			case isQuiet(quiet, c.Path()):
				ev = logger.Debug()
			default:
				ev = logger.Info()
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("requestId", v.RequestID).
				Msg("request")
			return nil
		},
	})
}

func isQuiet(quiet map[string]struct{}, path string) bool {
	_, ok := quiet[path]
	return ok
}
