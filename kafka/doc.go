// Package kafka wraps the kafka-go writer with regd logging, retry and
// TLS/SASL configuration. It is the transport behind the change feed.
//
// # Configuration
//
// All settings are provided via Config with ApplyDefaults()/Validate():
//
//	kafka:
//	  brokers: ["localhost:9092"]
//	  topic: "regd.changes"
//	  compression: snappy
package kafka
