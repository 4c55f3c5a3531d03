// Command flowmap-smoke checks that the services a flowmap deployment
// depends on answer: Redis, the flowmap server and the reload topic.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/flowmap/internal/dashboard"
	"github.com/mohammed-shakir/flowmap/internal/invalidation"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func checkRedis(ctx context.Context, addr string) error {
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 2 * time.Second})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	key := "flowmap:smoke:" + fmt.Sprint(time.Now().UnixNano())
	if err := client.Set(ctx, key, "ok", 30*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, err := client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	fmt.Println("redis round trip:", val)
	return nil
}

// checkServer asks /readyz and /api/overlay.json and returns the metadata.
func checkServer(ctx context.Context, baseURL string) (*dashboard.Metadata, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("bad server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	client := &http.Client{Timeout: 10 * time.Second}

	get := func(path string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String()+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", path, err)
		}
		defer func() { _ = resp.Body.Close() }()
		// only the head of the body matters
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s status %d: %s", path, resp.StatusCode, b)
		}
		return b, nil
	}

	if _, err := get("/readyz"); err != nil {
		return nil, err
	}
	b, err := get("/api/overlay.json")
	if err != nil {
		return nil, err
	}
	var md dashboard.Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	fmt.Printf("server: dataset %s version %s, %dx%d cells, degenerate=%v\n",
		md.Name, md.Version, md.Rows, md.Cols, md.Degenerate)
	return &md, nil
}

// publishPurge sends one purge event for dataset and waits for the ack.
func publishPurge(brokers []string, topic, dataset string) error {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	b, err := json.Marshal(invalidation.Event{
		Version: 1,
		Op:      invalidation.OpPurge,
		Dataset: dataset,
		TS:      time.Now().UTC(),
		Source:  "flowmap-smoke",
	})
	if err != nil {
		return err
	}
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(dataset),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("send purge event: %w", err)
	}
	fmt.Printf("purge event for %s at partition %d offset %d\n", dataset, part, off)
	return nil
}

func overlayCell(md *dashboard.Metadata, res int) error {
	lat := (md.Corners[0][0] + md.Corners[1][0]) / 2
	lon := (md.Corners[0][1] + md.Corners[1][1]) / 2
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), res)
	if err != nil {
		return fmt.Errorf("h3 cell: %w", err)
	}
	fmt.Printf("overlay center %.5f,%.5f is H3 cell %s at res %d\n", lat, lon, cell.String(), res)
	return nil
}

func main() {
	serverURL := flag.String("server", getenv("FLOWMAP_URL", "http://localhost:8090"), "flowmap server base URL")
	redisAddr := flag.String("redis", getenv("REDIS_ADDR", ""), "Redis address, empty skips the check")
	brokers := flag.String("brokers", getenv("KAFKA_BROKERS", ""), "Kafka brokers CSV, empty skips the event check")
	topic := flag.String("topic", getenv("KAFKA_TOPIC", "flowmap-reload"), "reload topic")
	res := flag.Int("res", 7, "H3 resolution for the center cell")
	timeout := flag.Duration("timeout", 20*time.Second, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	err := run(ctx, *serverURL, *redisAddr, *brokers, *topic, *res)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("all checks passed")
}

func run(ctx context.Context, serverURL, redisAddr, brokers, topic string, res int) error {
	if redisAddr != "" {
		if err := checkRedis(ctx, redisAddr); err != nil {
			return fmt.Errorf("redis check failed: %w", err)
		}
	}
	md, err := checkServer(ctx, serverURL)
	if err != nil {
		return fmt.Errorf("server check failed: %w", err)
	}
	if brokers != "" {
		if err := publishPurge(strings.Split(brokers, ","), topic, md.Name); err != nil {
			return fmt.Errorf("kafka check failed: %w", err)
		}
	}
	if err := overlayCell(md, res); err != nil {
		return fmt.Errorf("h3 check failed: %w", err)
	}
	return nil
}
