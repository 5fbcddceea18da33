// Package output renders meshstore-cli results as a table, JSON or YAML.
//
// Commands hand the formatter either a *Table, a value implementing
// Tabular, or plain data; the table formatter prints anything else as
// YAML.
//
// @design DS-0601
package output
