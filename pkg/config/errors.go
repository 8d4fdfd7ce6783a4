package config

import "fmt"

// ConfigurationError reports an invalid or missing parameter. It is always
// raised before any state is mutated or any event is published.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s %s", e.Key, e.Reason)
}

func invalid(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
