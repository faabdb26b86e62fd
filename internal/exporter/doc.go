// Package exporter writes assembled monthly records as a long-format CSV, one
// row per clinic month and line item, for previews and reconciliation.
package exporter
