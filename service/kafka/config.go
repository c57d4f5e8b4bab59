// Package kafka runs a sarama consumer group and hands every record to a
// per-topic handler.
package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers           []string `mapstructure:"brokers"`
	GroupID           string   `mapstructure:"groupId"`
	Topics            []string `mapstructure:"topics"`
	InitialOffset     string   `mapstructure:"initialOffset"` // newest/oldest
	Version           string   `mapstructure:"version"`       // e.g. "2.1.0"
	EnsureTopics      bool     `mapstructure:"ensureTopics"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replicationFactor"`
}

func (c *Config) norm() {
	if c.GroupID == "" {
		c.GroupID = "pplink-ingest"
	}
	if c.InitialOffset == "" {
		c.InitialOffset = "newest"
	}
	if c.Version == "" {
		c.Version = "2.1.0"
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers missing")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("kafka topics missing")
	}
	return nil
}

// saramaConfig builds the consumer group configuration.
func (c Config) saramaConfig() (*sarama.Config, error) {
	v, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("kafka version %q: %w", c.Version, err)
	}
	cfg := sarama.NewConfig()
	cfg.Version = v
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.AutoCommit.Interval = time.Second
	switch strings.ToLower(c.InitialOffset) {
	case "oldest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	case "newest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		return nil, fmt.Errorf("kafka initial offset %q: want newest or oldest", c.InitialOffset)
	}
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	return cfg, nil
}
