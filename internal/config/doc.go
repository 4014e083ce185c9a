// Package config loads the application config file (JSON or YAML) and hot-reloads it.
//
// YAML is converted to JSON first so both formats go through the same strict decoder;
// unknown keys are an error.
package config
