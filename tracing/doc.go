// Package tracing wraps OpenTelemetry for the approval and execution
// services. Without Init every span is a no-op.
package tracing
