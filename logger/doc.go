// Package logger provides structured logging on top of zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers carrying structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.NewDefault("regd").WithComponent("registry")
//	log.Info("instance registered", logger.Fields("service", "orders", "instance", "i-1"))
package logger
