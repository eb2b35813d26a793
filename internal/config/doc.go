// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// All fields are optional; applyDefaults fills in production-ready values.
package config
