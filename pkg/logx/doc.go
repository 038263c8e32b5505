// Package logx configures mqttlogic's structured logging.
//
// logx.Logger wraps zerolog:
//   - console output stays readable (short timestamp, short caller)
//   - file output is JSON
//   - an optional bus sink mirrors warnings onto an MQTT topic, rate limited
package logx
