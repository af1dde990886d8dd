// Package logx configures voxagent's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional desktop-notification sink (min-level + rate limiting) so
//     persistent failures surface as visible warnings
package logx
