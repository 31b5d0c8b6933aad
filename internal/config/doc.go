// Package config loads the jarvisd configuration from a YAML file, an
// optional .env file and JARVIS_* environment overrides, and fills in the
// defaults for every subsystem.
package config
