package config

import "errors"

// Validation errors. Load wraps them, so match with errors.Is.
var (
	ErrMissingHaID      = errors.New("device.ha_id is required (set HC_HAID)")
	ErrMissingTokenPath = errors.New("device.token_path is required (set HC_TOKEN_PATH)")
	ErrInvalidInterval  = errors.New("schedule intervals must be positive")
	ErrInvalidLogLevel  = errors.New("logging.level must be debug, info, warn or error")
)
