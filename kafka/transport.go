package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sort"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// codecs are the compression names accepted in Config.Compression.
var codecs = map[string]kafkago.Compression{
	"none":   0,
	"gzip":   kafkago.Gzip,
	"snappy": kafkago.Snappy,
	"lz4":    kafkago.Lz4,
	"zstd":   kafkago.Zstd,
}

type saslFactory func(username, password string) (sasl.Mechanism, error)

// mechanisms are the names accepted in SASLConfig.Mechanism.
var mechanisms = map[string]saslFactory{
	"PLAIN": func(u, p string) (sasl.Mechanism, error) {
		return plain.Mechanism{Username: u, Password: p}, nil
	},
	"SCRAM-SHA-256": func(u, p string) (sasl.Mechanism, error) {
		return scram.Mechanism(scram.SHA256, u, p)
	},
	"SCRAM-SHA-512": func(u, p string) (sasl.Mechanism, error) {
		return scram.Mechanism(scram.SHA512, u, p)
	},
}

func compressionCodec(name string) (kafkago.Compression, error) {
	codec, ok := codecs[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unsupported compression %q (want one of %s)", name, names(codecs))
	}
	return codec, nil
}

func saslMechanism(cfg SASLConfig) (sasl.Mechanism, error) {
	factory, ok := mechanisms[strings.ToUpper(cfg.Mechanism)]
	if !ok {
		return nil, fmt.Errorf("unsupported SASL mechanism %q (want one of %s)", cfg.Mechanism, names(mechanisms))
	}
	return factory(cfg.Username, cfg.Password)
}

func names[V any](m map[string]V) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}

// newTransport builds the connection settings shared by every request the
// writer makes: client id, timeouts, TLS and SASL.
func newTransport(cfg Config) (*kafkago.Transport, error) {
	t := &kafkago.Transport{
		ClientID:    cfg.ClientID,
		IdleTimeout: cfg.IdleTimeout,
		MetadataTTL: cfg.MetadataTTL,
	}
	if cfg.TLS.Enabled {
		tc, err := tlsConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("kafka tls: %w", err)
		}
		t.TLS = tc
	}
	if cfg.SASL.Enabled {
		m, err := saslMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("kafka sasl: %w", err)
		}
		t.SASL = m
	}
	return t, nil
}

func tlsConfig(cfg TLSConfig) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.SkipVerify}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tc.RootCAs = x509.NewCertPool()
		if !tc.RootCAs.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
	}

	switch {
	case cfg.CertFile == "" && cfg.KeyFile == "":
	case cfg.CertFile == "" || cfg.KeyFile == "":
		return nil, fmt.Errorf("cert_file and key_file must be set together")
	default:
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}
