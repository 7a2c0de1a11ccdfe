// Package logx configures umabot's structured logging.
//
// Components log through logx.Logger, a small wrapper on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON, one event per line
//   - An optional Telegram sink forwards warnings to an operator chat (min-level + rate limited)
package logx
