// Package envconfig reads the BINDGEN_* environment variables.
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// Set via BINDGEN_DEBUG in the environment
	Debug bool
	// Set via BINDGEN_INCLUDE in the environment, a path list
	IncludeDirs []string
	// Set via BINDGEN_CONFIG in the environment
	ConfigFile string
	// Set via BINDGEN_RUNTIME in the environment
	Runtime string
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BINDGEN_DEBUG":   {"BINDGEN_DEBUG", Debug, "Show debug logging (e.g. BINDGEN_DEBUG=1)"},
		"BINDGEN_INCLUDE": {"BINDGEN_INCLUDE", IncludeDirs, "Include directories searched after the configured ones"},
		"BINDGEN_CONFIG":  {"BINDGEN_CONFIG", ConfigFile, "Config file used when --config is not given"},
		"BINDGEN_RUNTIME": {"BINDGEN_RUNTIME", Runtime, "Import path of the runtime package generated code uses"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug = false
	if debug := clean("BINDGEN_DEBUG"); debug != "" {
		d, err := strconv.ParseBool(debug)
		if err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	IncludeDirs = nil
	for _, dir := range filepath.SplitList(clean("BINDGEN_INCLUDE")) {
		if dir = strings.TrimSpace(dir); dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			slog.Warn("include directory does not exist, ignoring", "BINDGEN_INCLUDE", dir)
			continue
		}
		IncludeDirs = append(IncludeDirs, dir)
	}

	ConfigFile = clean("BINDGEN_CONFIG")
	Runtime = clean("BINDGEN_RUNTIME")
}
