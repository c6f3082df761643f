// Package environment reads configuration overrides from environment
// variables.
//
// Variables are looked up under a common prefix, so Prefix("SOHAYOK").String("DB_PATH", "")
// reads SOHAYOK_DB_PATH. Unset, empty, or unparseable values yield the
// supplied default and never abort the caller.
package environment

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Env resolves variable names under a fixed prefix.
type Env struct {
	prefix string
}

// Prefix returns an Env that prepends prefix and an underscore to every
// name. An empty prefix reads names verbatim.
func Prefix(prefix string) Env {
	return Env{prefix: strings.TrimSuffix(prefix, "_")}
}

// Name returns the fully qualified variable name for key.
func (e Env) Name(key string) string {
	if e.prefix == "" {
		return key
	}
	return e.prefix + "_" + key
}

// Lookup returns the raw value and whether the variable is set to a
// non-empty string.
func (e Env) Lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(e.Name(key)))
	return v, v != ""
}

// String returns the variable value or def.
func (e Env) String(key, def string) string {
	if v, ok := e.Lookup(key); ok {
		return v
	}
	return def
}

// Int parses the variable as a decimal integer.
func (e Env) Int(key string, def int) int {
	v, ok := e.Lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Int64 parses the variable as a 64-bit decimal integer.
func (e Env) Int64(key string, def int64) int64 {
	v, ok := e.Lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Bool parses the variable with strconv.ParseBool.
func (e Env) Bool(key string, def bool) bool {
	v, ok := e.Lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Duration parses the variable with time.ParseDuration ("30s", "15m").
func (e Env) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.Lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
