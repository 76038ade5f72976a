// Package config loads the service configuration from a YAML file, with
// secrets and endpoints overridable from the environment or a .env file.
package config
