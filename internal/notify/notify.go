// Package notify announces finished forecast products to downstream
// consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
)

// Product is one published file.
type Product struct {
	RunID   string    `json:"run_id"`
	Cycle   string    `json:"cycle"`
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Notifier publishes product announcements.
type Notifier interface {
	Notify(ctx context.Context, products []Product) error
	Close() error
}

// Nop drops announcements.
type Nop struct{}

func (Nop) Notify(context.Context, []Product) error { return nil }

func (Nop) Close() error { return nil }

// New returns a Kafka notifier when brokers are configured, Nop otherwise.
func New(cfg config.Notify, logger *slog.Logger) Notifier {
	if len(cfg.Brokers) == 0 {
		return Nop{}
	}
	return NewKafka(cfg, logger)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka produces one message per product to the configured topic.
type Kafka struct {
	writer messageWriter
	logger *slog.Logger
}

// NewKafka creates a Kafka producer for cfg.Topic.
func NewKafka(cfg config.Notify, logger *slog.Logger) *Kafka {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Kafka{writer: w, logger: logger}
}

// Notify writes all products in a single WriteMessages call.
func (k *Kafka) Notify(ctx context.Context, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(products))
	for i := range products {
		msg, err := serializeToMessage(products[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d product messages: %w", len(msgs), err)
	}
	k.logger.Info("products announced", "count", len(msgs))
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func serializeToMessage(p Product) (kafkago.Message, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize product: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(p.Cycle + "/" + p.Name),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "cycle", Value: []byte(p.Cycle)},
			{Key: "run_id", Value: []byte(p.RunID)},
		},
	}, nil
}

// Collect lists the files under root matching globs, expanded for c.
func Collect(root string, globs []string, c cycle.ID, runID string) ([]Product, error) {
	var out []Product
	seen := map[string]bool{}
	for _, g := range globs {
		matches, err := filepath.Glob(filepath.Join(root, c.Expand(g)))
		if err != nil {
			return nil, fmt.Errorf("bad product pattern %q: %w", g, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, Product{
				RunID:   runID,
				Cycle:   string(c),
				Name:    filepath.Base(m),
				Path:    m,
				Size:    info.Size(),
				ModTime: info.ModTime().UTC(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
