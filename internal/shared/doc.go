// Package shared holds helpers used by more than one package of the ingestion
// service. Today that is only the testutil subpackage: a capturing slog handler
// and builders for profit-and-loss export fixtures.
package shared
