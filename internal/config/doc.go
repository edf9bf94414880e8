// Package config handles configuration loading, parsing, and validation
// from defaults, an optional config.yaml and COMPLIANCE_* environment
// variables. It provides type-safe access to the settings of the worker,
// the tool client, the HTTP server and the database layer.
package config
