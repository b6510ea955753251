// Package config loads playground service configuration from environment
// variables using envconfig. Every field carries a default, so an empty
// environment yields the same values as Default().
package config
