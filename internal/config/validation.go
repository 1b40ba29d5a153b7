package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidationError is one rejected field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors aggregates every rejected field found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; "))
}

// ValidateExtended validates every config section and returns all
// violations at once rather than stopping at the first one.
func (c *Config) ValidateExtended() error {
	var errs ValidationErrors
	errs = append(errs, c.validateBreaker()...)
	errs = append(errs, c.validateMetrics()...)
	errs = append(errs, c.validateRedis()...)
	errs = append(errs, c.validateLive()...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateBreaker() ValidationErrors {
	var errs ValidationErrors
	b := c.Breaker
	if b.Name == "" {
		errs = append(errs, ValidationError{Field: "breaker.name", Value: b.Name, Message: "must not be empty"})
	}
	if b.MinCalls <= 0 {
		errs = append(errs, ValidationError{Field: "breaker.min_calls", Value: b.MinCalls, Message: "must be positive"})
	}
	if b.HalfOpenCalls <= 0 {
		errs = append(errs, ValidationError{Field: "breaker.half_open_calls", Value: b.HalfOpenCalls, Message: "must be positive"})
	}
	if b.InitialWindow <= 0 {
		errs = append(errs, ValidationError{Field: "breaker.initial_window", Value: b.InitialWindow, Message: "must be positive"})
	}
	if b.InitialFailureThreshold <= 0 || b.InitialFailureThreshold > 1 {
		errs = append(errs, ValidationError{Field: "breaker.initial_failure_threshold", Value: b.InitialFailureThreshold, Message: "must be in (0, 1]"})
	}
	if b.SignificantChange <= 0 {
		errs = append(errs, ValidationError{Field: "breaker.significant_change", Value: b.SignificantChange, Message: "must be positive"})
	}
	if b.ReconfigMinIntervalMs < 0 {
		errs = append(errs, ValidationError{Field: "breaker.reconfig_min_interval_ms", Value: b.ReconfigMinIntervalMs, Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateMetrics() ValidationErrors {
	var errs ValidationErrors
	if c.Metrics.Enabled && !isValidListenAddress(c.Metrics.Listen) {
		errs = append(errs, ValidationError{Field: "metrics.listen", Value: c.Metrics.Listen, Message: "invalid listen address"})
	}
	return errs
}

func (c *Config) validateRedis() ValidationErrors {
	var errs ValidationErrors
	if c.Redis.Enabled {
		if !isValidListenAddress(c.Redis.Addr) {
			errs = append(errs, ValidationError{Field: "redis.addr", Value: c.Redis.Addr, Message: "invalid address"})
		}
		if c.Redis.Timeout <= 0 {
			errs = append(errs, ValidationError{Field: "redis.timeout", Value: c.Redis.Timeout, Message: "must be positive"})
		}
	}
	return errs
}

func (c *Config) validateLive() ValidationErrors {
	var errs ValidationErrors
	if c.Live.Enabled {
		if !isValidListenAddress(c.Live.Listen) {
			errs = append(errs, ValidationError{Field: "live.listen", Value: c.Live.Listen, Message: "invalid listen address"})
		}
		if c.Live.ReportPeriod <= 0 {
			errs = append(errs, ValidationError{Field: "live.report_period", Value: c.Live.ReportPeriod, Message: "must be positive"})
		}
	}
	return errs
}

func isValidListenAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host != "" && host != "0.0.0.0" && host != "localhost" && net.ParseIP(host) == nil {
		return false
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return false
	}
	return true
}
