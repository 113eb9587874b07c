package config

import (
	"os"
	"strconv"
	"strings"
)

// lookup returns the trimmed value of name and whether it is non-empty.
func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// BoolEnv accepts 1/0, true/false, on/off and yes/no in any case. Anything
// else keeps def.
func BoolEnv(name string, def bool) bool {
	v, ok := lookup(name)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	}
	return def
}

// IntEnvClamped parses name as an int and clamps it to [lo, hi]. Unset or
// malformed values keep def. An inverted range disables clamping.
func IntEnvClamped(name string, def, lo, hi int) int {
	v, ok := lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if lo > hi {
		return n
	}
	return min(max(n, lo), hi)
}

func StringEnv(name, def string) string {
	if v, ok := lookup(name); ok {
		return v
	}
	return def
}
