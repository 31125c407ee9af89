// Package config loads the OpenMCP-Bank runtime configuration from a JSON
// or YAML file and fills in defaults for every section that the operator
// leaves empty.
package config
