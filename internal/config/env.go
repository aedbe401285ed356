// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/tune2hls/internal/log"
	"github.com/rs/zerolog"
)

// LookupFunc resolves an environment variable. os.LookupEnv in production.
type LookupFunc func(key string) (string, bool)

// envReader parses typed values and logs where each one came from.
// Unparseable values fall back to the default with a warning.
type envReader struct {
	lookup LookupFunc
	logger zerolog.Logger
}

func newEnvReader(lookup LookupFunc, logger zerolog.Logger) envReader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return envReader{lookup: lookup, logger: logger}
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "key") || strings.Contains(k, "password") || strings.Contains(k, "token")
}

// raw returns the trimmed value and whether a non-empty value was set.
func (e envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		e.logger.Debug().Str("key", key).Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return "", false
	}
	return v, true
}

func (e envReader) fromEnv(key string, value any) {
	ev := e.logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Interface("value", value)
	}
	ev.Msg("using environment variable")
}

func (e envReader) invalid(key, value, kind string) {
	e.logger.Warn().Str("key", key).Str("value", value).
		Msgf("invalid %s in environment variable, keeping previous value", kind)
}

func (e envReader) String(key, def string) string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	e.fromEnv(key, v)
	return v
}

func (e envReader) Int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.invalid(key, v, "integer")
		return def
	}
	e.fromEnv(key, i)
	return i
}

func (e envReader) Int64(key string, def int64) int64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.invalid(key, v, "integer")
		return def
	}
	e.fromEnv(key, i)
	return i
}

func (e envReader) Float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.invalid(key, v, "float")
		return def
	}
	e.fromEnv(key, f)
	return f
}

// Bool accepts true/false, 1/0 and yes/no, case-insensitive.
func (e envReader) Bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		e.fromEnv(key, true)
		return true
	case "false", "0", "no":
		e.fromEnv(key, false)
		return false
	}
	e.invalid(key, v, "boolean")
	return def
}

// Duration accepts Go duration syntax ("90s", "168h").
func (e envReader) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid(key, v, "duration")
		return def
	}
	e.fromEnv(key, d.String())
	return d
}

// List splits a comma separated value, dropping empty items.
func (e envReader) List(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	out := splitList(v)
	e.fromEnv(key, out)
	return out
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseString reads a string from the process environment or returns def.
func ParseString(key, def string) string {
	return newEnvReader(nil, log.WithComponent("config")).String(key, def)
}

// ParseInt reads an integer from the process environment or returns def.
func ParseInt(key string, def int) int {
	return newEnvReader(nil, log.WithComponent("config")).Int(key, def)
}

// ParseDuration reads a duration from the process environment or returns def.
func ParseDuration(key string, def time.Duration) time.Duration {
	return newEnvReader(nil, log.WithComponent("config")).Duration(key, def)
}

// ParseBool reads a boolean from the process environment or returns def.
func ParseBool(key string, def bool) bool {
	return newEnvReader(nil, log.WithComponent("config")).Bool(key, def)
}
