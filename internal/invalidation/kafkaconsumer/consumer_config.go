package kafkaconsumer

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize bounds the number of datasets whose last revision is kept.
	DedupeSize int
	// Instance identifies this replica; events it published are skipped.
	Instance string
}

func FromEnv() Config {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "flowmap-reload"
	}
	group := os.Getenv("KAFKA_GROUP_ID")
	if group == "" {
		group = "flowmap-server"
	}

	return Config{
		Brokers:          SplitCSV(brokers),
		Topic:            topic,
		GroupID:          group,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		// reload events are only meaningful from now on
		InitialOffsetOldest: false,
		DedupeSize:          1024,
		Instance:            os.Getenv("INSTANCE_ID"),
	}
}

func SplitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
