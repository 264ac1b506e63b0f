package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override the recognizer settings.
const (
	EnvServerAddr       = "SPHINX_SERVER_ADDR"
	EnvServerPort       = "SPHINX_SERVER_PORT"
	EnvSilenceTime      = "SPHINX_SILENCE_TIME"
	EnvNoiseFrames      = "SPHINX_NOISE_FRAMES"
	EnvSilenceThreshold = "SPHINX_SILENCE_THRESHOLD"
)

// LoadEnvFile loads variables from a dotenv file into the process
// environment. Variables already set are not overwritten. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("config: env file not found", "path", path)
			return nil
		}
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	slog.Debug("config: env file loaded", "path", path)
	return nil
}

// ApplyEnv overrides recognizer and detector settings from the environment.
// SPHINX_SILENCE_TIME is in milliseconds. Every malformed value is reported.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	intVar := func(name string, dst *int) {
		v, ok := lookup(name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s=%q is not an integer", name, v))
			return
		}
		*dst = n
	}

	if v, ok := lookup(EnvServerAddr); ok && v != "" {
		cfg.Recognizer.Address = v
	}
	intVar(EnvServerPort, &cfg.Recognizer.Port)
	intVar(EnvSilenceTime, &cfg.Detector.SilenceTimeMs)
	intVar(EnvNoiseFrames, &cfg.Detector.NoiseFrames)
	intVar(EnvSilenceThreshold, &cfg.Detector.SilenceThreshold)
	return errors.Join(errs...)
}
