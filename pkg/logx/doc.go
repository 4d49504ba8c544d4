// Package logx wraps zerolog behind a small value-type Logger so components
// can take a logger by value, derive child loggers with fixed fields, and
// stay silent when handed the zero value.
package logx
