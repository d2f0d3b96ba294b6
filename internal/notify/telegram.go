// Package notify implements the outbound Telegram sink.
//
// Messages are queued by priority and drained by a single serial loop that
// honors a minimum inter-message interval, so alert bursts never trip the
// Bot API rate limit. CRITICAL messages always leave before lower
// priorities. Markdown formatting is attempted first; when the Bot API
// rejects the entity parse (400), the message is resent as stripped plain
// text. Send failures are logged and never propagate: a dead notifier is
// an event, not an engine failure.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"sentrycoin/internal/config"
	"sentrycoin/pkg/types"
)

// Message is one outbound notification.
type Message struct {
	Text     string
	Priority types.MessagePriority
}

// Stats counts sink activity.
type Stats struct {
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
	Fallback int64 `json:"plainTextFallbacks"`
}

// Sink is the prioritized Telegram queue. Enqueue never blocks; the Run
// loop drains in priority order.
type Sink struct {
	http        *resty.Client
	token       string
	chatID      string
	minInterval time.Duration
	disabled    bool

	// One queue per priority, drained CRITICAL first.
	queues [4]chan Message

	statsMu sync.Mutex
	stats   Stats
	logger  *slog.Logger
}

// New builds the sink. An empty bot token disables sending entirely;
// Enqueue becomes a counted no-op so the engine runs unchanged without
// credentials.
func New(cfg config.TelegramConfig, logger *slog.Logger) *Sink {
	s := &Sink{
		token:       cfg.BotToken,
		chatID:      cfg.ChatID,
		minInterval: cfg.MinInterval,
		disabled:    cfg.BotToken == "",
		logger:      logger.With("component", "telegram"),
	}
	for i := range s.queues {
		s.queues[i] = make(chan Message, cfg.QueueSize)
	}
	if s.disabled {
		s.logger.Warn("telegram disabled: no bot token configured")
		return s
	}

	s.http = resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return s
}

// Enqueue queues a message without blocking. The oldest message of the
// same priority is dropped when that queue is full.
func (s *Sink) Enqueue(msg Message) {
	if s.disabled {
		return
	}
	q := s.queues[clampPriority(msg.Priority)]
	select {
	case q <- msg:
		return
	default:
	}
	select {
	case <-q:
		s.countDrop()
	default:
	}
	select {
	case q <- msg:
	default:
		s.countDrop()
	}
}

// Run drains the queues until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	if s.disabled {
		<-ctx.Done()
		return
	}
	for {
		msg, ok := s.next(ctx)
		if !ok {
			return
		}
		s.send(ctx, msg)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.minInterval):
		}
	}
}

// next returns the highest-priority queued message, blocking until one
// arrives or ctx ends.
func (s *Sink) next(ctx context.Context) (Message, bool) {
	for {
		// Strict priority poll first.
		for p := types.PriorityCritical; p >= types.PriorityLow; p-- {
			select {
			case msg := <-s.queues[p]:
				return msg, true
			default:
			}
		}
		// Nothing queued: block on all queues at once, then re-poll so a
		// simultaneously arrived CRITICAL still wins.
		select {
		case <-ctx.Done():
			return Message{}, false
		case msg := <-s.queues[types.PriorityCritical]:
			return msg, true
		case msg := <-s.queues[types.PriorityHigh]:
			return msg, true
		case msg := <-s.queues[types.PriorityNormal]:
			return msg, true
		case msg := <-s.queues[types.PriorityLow]:
			return msg, true
		}
	}
}

func (s *Sink) send(ctx context.Context, msg Message) {
	if err := s.post(ctx, msg.Text, "Markdown"); err == nil {
		s.count(func(st *Stats) { st.Sent++ })
		return
	} else if !isParseRejection(err) {
		s.count(func(st *Stats) { st.Failed++ })
		s.logger.Error("telegram send failed", "error", err)
		return
	}

	// Markdown rejected: strip formatting and retry once as plain text.
	s.count(func(st *Stats) { st.Fallback++ })
	if err := s.post(ctx, StripMarkdown(msg.Text), ""); err != nil {
		s.count(func(st *Stats) { st.Failed++ })
		s.logger.Error("telegram plain-text fallback failed", "error", err)
		return
	}
	s.count(func(st *Stats) { st.Sent++ })
}

func (s *Sink) count(apply func(*Stats)) {
	s.statsMu.Lock()
	apply(&s.stats)
	s.statsMu.Unlock()
}

func (s *Sink) countDrop() {
	s.count(func(st *Stats) { st.Dropped++ })
}

// parseRejection marks a 400 from the Bot API (almost always a broken
// Markdown entity).
type parseRejection struct{ body string }

func (e *parseRejection) Error() string { return "telegram rejected message: " + e.body }

func isParseRejection(err error) bool {
	_, ok := err.(*parseRejection)
	return ok
}

func (s *Sink) post(ctx context.Context, text, parseMode string) error {
	body := map[string]any{
		"chat_id":                  s.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	if parseMode != "" {
		body["parse_mode"] = parseMode
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/bot%s/sendMessage", s.token))
	if err != nil {
		return fmt.Errorf("telegram post: %w", err)
	}
	if resp.StatusCode() == http.StatusBadRequest {
		return &parseRejection{body: resp.String()}
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram post: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetStats returns a copy of the sink counters.
func (s *Sink) GetStats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Disabled reports whether the sink was built without credentials.
func (s *Sink) Disabled() bool { return s.disabled }

// StripMarkdown removes the formatting characters Telegram chokes on.
func StripMarkdown(text string) string {
	r := strings.NewReplacer("*", "", "_", "", "`", "", "[", "(", "]", ")")
	return r.Replace(text)
}

func clampPriority(p types.MessagePriority) types.MessagePriority {
	if p < types.PriorityLow {
		return types.PriorityLow
	}
	if p > types.PriorityCritical {
		return types.PriorityCritical
	}
	return p
}
