// Package kafka holds the Kafka cluster settings and the producer used to
// publish failed events.
package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// DefaultDeliveryTimeout bounds how long a record may sit in the producer
// buffer when no DeliveryTimeout is configured.
const DefaultDeliveryTimeout = 10 * time.Second

// ClusterConfig defines a Kafka cluster with authentication and TLS settings.
type ClusterConfig struct {
	Brokers  []string   `yaml:"brokers"`
	ClientID string     `yaml:"clientId,omitempty"`
	Auth     AuthConfig `yaml:"auth,omitempty"`
	TLS      TLSConfig  `yaml:"tls,omitempty"`

	// DeliveryTimeout fails a buffered record that was not acknowledged in
	// time. Zero means DefaultDeliveryTimeout.
	DeliveryTimeout time.Duration `yaml:"deliveryTimeout,omitempty"`
}

// AuthConfig defines SASL authentication.
type AuthConfig struct {
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// TLSConfig defines TLS settings for broker connections.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CAFile     string `yaml:"caFile,omitempty"`
	CertFile   string `yaml:"certFile,omitempty"`
	KeyFile    string `yaml:"keyFile,omitempty"`
	SkipVerify bool   `yaml:"skipVerify,omitempty"`
}

// ParseBrokers splits a comma-separated broker list, dropping empty entries.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks the cluster configuration for errors.
func (c *ClusterConfig) Validate() error {
	var errs []error

	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required"))
	}

	if c.Auth.Mechanism != "" {
		switch c.Auth.Mechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			errs = append(errs, fmt.Errorf("auth.mechanism %q is not valid (must be PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512)", c.Auth.Mechanism))
		}
		if c.Auth.Username == "" {
			errs = append(errs, errors.New("auth.username is required when mechanism is set"))
		}
		if c.Auth.Password == "" {
			errs = append(errs, errors.New("auth.password is required when mechanism is set"))
		}
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.certFile and tls.keyFile must be set together"))
	}

	if c.DeliveryTimeout < 0 {
		errs = append(errs, fmt.Errorf("deliveryTimeout must not be negative, got %s", c.DeliveryTimeout))
	}

	return errors.Join(errs...)
}

// ClientOptions returns the kgo options for the cluster.
func ClientOptions(cfg *ClusterConfig) ([]kgo.Opt, error) {
	delivery := cfg.DeliveryTimeout
	if delivery <= 0 {
		delivery = DefaultDeliveryTimeout
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RecordDeliveryTimeout(delivery),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.Auth.Mechanism != "" {
		mech, err := saslMechanism(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("sasl config: %w", err)
		}
		opts = append(opts, kgo.SASL(mech))
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	return opts, nil
}

func saslMechanism(auth AuthConfig) (sasl.Mechanism, error) {
	switch auth.Mechanism {
	case "PLAIN":
		return plain.Auth{User: auth.Username, Pass: auth.Password}.AsMechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: auth.Username, Pass: auth.Password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: auth.Username, Pass: auth.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", auth.Mechanism)
	}
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.SkipVerify, //nolint:gosec // opt-in for dev clusters
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file %s: %w", cfg.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
