// Package logger builds the process-wide log/slog logger: JSON or text
// output, one adjustable level and redaction of secrets such as encryption
// keys and passphrases.
//
// @design DS-0502
package logger
