package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tjsasakifln/bidiq/pkg/config"
	"github.com/tjsasakifln/bidiq/pkg/logger"
)

// dialTimeout bounds the best-effort terminal-event publish so a down
// broker can never hold up the notify stage (spec.md §4.11 names
// notify as the pipeline's final, non-blocking stage).
const dialTimeout = 3 * time.Second

// TerminalEvent is the envelope published to AMQP when a search reaches
// a terminal state, for external consumers (notification/export
// workers) to react to — SPEC_FULL.md §4.7's expansion over spec.md,
// absent from the distilled spec but present in original_source's
// notification fan-out.
//
// Grounded on the teacher's pkg/events/rabbitmq.go publisher shape
// (Dial/Channel/ExchangeDeclare/PublishWithContext), adapted into a
// single-purpose fire-and-forget publisher rather than the teacher's
// full reconnecting EventBus — this system has no consumer side and no
// event-sourcing concern to restore after a reconnect (DESIGN.md
// decision 6).
type TerminalEvent struct {
	SearchID  string                 `json:"search_id"`
	EventType string                 `json:"event_type"`
	Status    string                 `json:"status"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notifier publishes terminal search events to AMQP, best-effort.
type Notifier struct {
	cfg config.AMQPConfig
	log *logger.Logger
}

// NewNotifier builds a Notifier. A nil or zero-value cfg.URL disables
// publishing entirely — Publish becomes a no-op.
func NewNotifier(cfg config.AMQPConfig, log *logger.Logger) *Notifier {
	return &Notifier{cfg: cfg, log: log}
}

// Publish dials, declares the exchange, and publishes a single
// TerminalEvent, all within dialTimeout. Failures are logged and
// swallowed — a missing or unreachable broker must never fail or delay
// the search that triggered the notification.
func (n *Notifier) Publish(ctx context.Context, eventType, searchID, status string, payload map[string]interface{}) {
	if n.cfg.URL == "" {
		return
	}

	event := TerminalEvent{
		SearchID:  searchID,
		EventType: eventType,
		Status:    status,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	go n.publishAsync(event)
}

func (n *Notifier) publishAsync(event TerminalEvent) {
	conn, err := amqp.DialConfig(n.cfg.URL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		n.logFailure(event, fmt.Errorf("dial: %w", err))
		return
	}
	defer conn.Close()

	channel, err := conn.Channel()
	if err != nil {
		n.logFailure(event, fmt.Errorf("open channel: %w", err))
		return
	}
	defer channel.Close()

	exchangeType := n.cfg.ExchangeType
	if exchangeType == "" {
		exchangeType = "topic"
	}
	if err := channel.ExchangeDeclare(n.cfg.Exchange, exchangeType, true, false, false, false, nil); err != nil {
		n.logFailure(event, fmt.Errorf("declare exchange: %w", err))
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logFailure(event, fmt.Errorf("marshal: %w", err))
		return
	}

	publishCtx, cancelPublish := context.WithTimeout(context.Background(), dialTimeout)
	defer cancelPublish()

	err = channel.PublishWithContext(publishCtx, n.cfg.Exchange, event.EventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Timestamp,
		Type:         event.EventType,
		Body:         body,
	})
	if err != nil {
		n.logFailure(event, fmt.Errorf("publish: %w", err))
		return
	}

	if n.log != nil {
		n.log.Debug().Str("search_id", event.SearchID).Str("event_type", event.EventType).Msg("terminal event published")
	}
}

func (n *Notifier) logFailure(event TerminalEvent, err error) {
	if n.log != nil {
		n.log.Warn().Err(err).Str("search_id", event.SearchID).Str("event_type", event.EventType).Msg("failed to publish terminal event, continuing without it")
	}
}
