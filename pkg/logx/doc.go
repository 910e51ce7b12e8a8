// Package logx is popupq's structured logging: a small value-type Logger on
// top of zerolog.
//
//   - Console output is human readable (short timestamp + short caller).
//   - File output is JSON, one event per line, append-only.
//   - Service.Apply swaps level and sinks at runtime (config hot reload).
package logx
