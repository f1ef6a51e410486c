// Package kafka provides Kafka producer and write-back consumer
// functionality for tag values.
package kafka

import (
	"crypto/tls"
	"strings"
	"time"

	appconfig "slclink/config"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// Config holds the runtime configuration for a Kafka cluster
// connection. Unlike the YAML-facing cluster config, optional fields
// here carry their resolved defaults.
type Config struct {
	Name          string
	Enabled       bool
	Brokers       []string
	UseTLS        bool
	TLSSkipVerify bool
	SASLMechanism SASLMechanism
	Username      string
	Password      string

	// Producer settings
	RequiredAcks     int // -1=all, 0=none, 1=leader only
	MaxRetries       int
	RetryBackoff     time.Duration
	AutoCreateTopics bool

	// Tag publishing settings
	PublishChanges bool
	Topic          string // Base topic for tag change publishing

	// Write-back settings
	EnableWriteback bool
	ConsumerGroup   string
	WriteMaxAge     time.Duration // Requests older than this are skipped
}

// TopicRoot builds the base topic for a cluster: the namespace plus
// the cluster's optional selector sub-namespace, joined with dots.
func TopicRoot(namespace string, cc *appconfig.KafkaConfig) string {
	parts := []string{namespace}
	if cc.Selector != "" {
		parts = append(parts, cc.Selector)
	}
	parts = append(parts, "tags")
	return strings.Join(parts, ".")
}

// FromClusterConfig resolves a YAML cluster config into a runtime
// Config, filling in defaults for unset fields.
func FromClusterConfig(namespace string, cc *appconfig.KafkaConfig) Config {
	cfg := Config{
		Name:            cc.Name,
		Enabled:         cc.Enabled,
		Brokers:         cc.Brokers,
		UseTLS:          cc.UseTLS,
		TLSSkipVerify:   cc.TLSSkipVerify,
		SASLMechanism:   SASLMechanism(cc.SASLMechanism),
		Username:        cc.Username,
		Password:        cc.Password,
		RequiredAcks:    cc.RequiredAcks,
		MaxRetries:      cc.MaxRetries,
		RetryBackoff:    cc.RetryBackoff,
		PublishChanges:  cc.PublishChanges,
		Topic:           TopicRoot(namespace, cc),
		EnableWriteback: cc.EnableWriteback,
	}

	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cc.RequiredAcks == 0 {
		cfg.RequiredAcks = -1 // All replicas must acknowledge
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	// nil means unset, which defaults to on
	cfg.AutoCreateTopics = cc.AutoCreateTopics == nil || *cc.AutoCreateTopics

	return cfg
}

// GetTLSConfig returns a TLS configuration if TLS is enabled.
func (c *Config) GetTLSConfig() *tls.Config {
	if !c.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
	}
}

// GetConsumerGroup returns the consumer group for write-back, with a default.
func (c *Config) GetConsumerGroup() string {
	if c.ConsumerGroup != "" {
		return c.ConsumerGroup
	}
	return c.Name + "-writes"
}

// GetWriteMaxAge returns the maximum age for write requests, with a default.
func (c *Config) GetWriteMaxAge() time.Duration {
	if c.WriteMaxAge > 0 {
		return c.WriteMaxAge
	}
	return 30 * time.Second
}

// WriteTopic returns the topic write requests are consumed from.
func (c *Config) WriteTopic() string {
	return c.Topic + ".writes"
}

// WriteResponseTopic returns the topic write responses are published to.
func (c *Config) WriteResponseTopic() string {
	return c.Topic + ".writes.responses"
}

// HealthTopic returns the topic PLC health messages are published to.
func (c *Config) HealthTopic() string {
	return c.Topic + ".health"
}
