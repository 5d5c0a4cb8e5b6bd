package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect session and account events",
	}
	cmd.AddCommand(c.auditTailCmd())
	return cmd
}

func (c *cli) auditTailCmd() *cobra.Command {
	topics := []string{pkgkafka.Topic("session", "events"), pkgkafka.Topic("user", "events")}
	var dedupeTTL time.Duration

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow audit events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printer := &auditPrinter{w: cmd.OutOrStdout()}
			store := pkgkafka.NewMemoryIdempotencyStore(dedupeTTL)
			handler := pkgkafka.IdempotentHandler(store, printer.handle, c.logger)
			return c.tail(cmd.Context(), topics, handler)
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topic", topics, "topics to follow")
	cmd.Flags().StringSliceVar(&c.cfg.KafkaBrokers, "brokers", c.cfg.KafkaBrokers, "Kafka brokers")
	cmd.Flags().StringVar(&c.cfg.AuditGroup, "group", c.cfg.AuditGroup, "consumer group")
	cmd.Flags().DurationVar(&dedupeTTL, "dedupe-ttl", 10*time.Minute, "how long an event id is remembered")
	return cmd
}

// tail runs one consumer per topic until ctx is canceled or one fails.
func (c *cli) tail(ctx context.Context, topics []string, h pkgkafka.Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		consumer := c.newConsumer(topic, h)
		g.Go(func() error {
			if err := consumer.Start(ctx); err != nil {
				return fmt.Errorf("consume %s: %w", topic, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// auditPrinter writes one line per event. Consumers share it.
type auditPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *auditPrinter) handle(_ context.Context, e *pkgkafka.Event) error {
	data := "{}"
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.Data); err == nil && buf.Len() > 0 {
		data = buf.String()
	}

	line := fmt.Sprintf("%s  %-18s %s/%s  %s",
		e.Timestamp.UTC().Format(time.RFC3339),
		e.EventType,
		e.AggregateType,
		e.AggregateID,
		data,
	)
	if e.CorrelationID != "" {
		line += "  correlation_id=" + e.CorrelationID
	}
	if actor := e.Metadata["actor_id"]; actor != "" && actor != e.AggregateID {
		line += "  actor_id=" + actor
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, line+"\n")
	return err
}
