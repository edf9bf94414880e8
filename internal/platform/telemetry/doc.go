// Package telemetry installs the OpenTelemetry meter and tracer providers
// and defines the task worker's instruments.
package telemetry
