package domain

import "errors"

// ConfigError represents a configuration error. It is raised while building
// components, never in the middle of a run.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

var (
	// ErrDataGap is returned when no candles exist in the requested window. Fatal before simulation.
	ErrDataGap = errors.New("no candles in requested window")

	// ErrInvalidCandle is returned for bars whose OHLC envelope is inconsistent.
	ErrInvalidCandle = errors.New("invalid candle")

	// ErrOutOfOrder is returned when candle timestamps are not strictly increasing.
	ErrOutOfOrder = errors.New("candles out of order")

	// ErrUnknownSide is returned for an order side outside the hedge-mode set.
	ErrUnknownSide = errors.New("unknown order side")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
