// Package config loads the recorder configuration from YAML or TOML,
// applies environment overrides and validates it. Malformed network
// entries are skipped rather than failing the whole load.
package config
