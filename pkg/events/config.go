package events

import (
	"os"
	"strings"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "wopihost.file-events"

// Brokers returns the Kafka/Redpanda broker addresses.
// It checks the environment first, then falls back to configured.
func Brokers(configured []string) []string {
	if brokers := os.Getenv("REDPANDA_BROKERS"); brokers != "" {
		return strings.Split(brokers, ",")
	}
	return configured
}

// Topic returns the event topic name.
// It checks the environment first, then falls back to configured, then the
// default.
func Topic(configured string) string {
	if topic := os.Getenv("FILE_EVENTS_TOPIC"); topic != "" {
		return topic
	}
	if configured != "" {
		return configured
	}
	return DefaultTopic
}
