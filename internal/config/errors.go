package config

import "errors"

// Sentinel kinds returned by Load and Validate; match them with errors.Is.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
