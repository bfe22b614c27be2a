// Package chat answers text messages sent to a mentor.
//
// Each call carries the full conversation; the service prepends the
// mentor's persona as the system instruction and returns the model's reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/FlavioMarcoHaux/MiniMax/internal/observe"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/llm"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrEmptyHistory is returned by SendChat when there is nothing to answer.
var ErrEmptyHistory = errors.New("chat: empty history")

// Turn senders.
const (
	SenderUser  = "user"
	SenderModel = "model"
)

// Turn is one message of a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Mentor is a chat persona.
type Mentor struct {
	ID          string
	Name        string
	Persona     string
	Description string
}

// Option configures a [Service].
type Option func(*Service)

// WithMetrics overrides the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) Option {
	return func(s *Service) { s.providerName = name }
}

// Service sends mentor conversations to an [llm.Provider]. It is safe for
// concurrent use.
type Service struct {
	provider llm.Provider

	mu      sync.RWMutex
	mentors map[string]Mentor
	order   []string

	metrics      *observe.Metrics
	log          *slog.Logger
	providerName string
}

// New creates a Service. Later mentors with a duplicate ID replace earlier ones.
func New(provider llm.Provider, mentors []Mentor, opts ...Option) *Service {
	s := &Service{
		provider:     provider,
		providerName: "llm",
	}
	s.SetMentors(mentors)
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// SetMentors replaces the mentor set. Conversations already in flight keep
// the prompt they started with.
func (s *Service) SetMentors(mentors []Mentor) {
	byID := make(map[string]Mentor, len(mentors))
	var order []string
	for _, m := range mentors {
		if _, dup := byID[m.ID]; !dup {
			order = append(order, m.ID)
		}
		byID[m.ID] = m
	}
	s.mu.Lock()
	s.mentors, s.order = byID, order
	s.mu.Unlock()
}

// Mentors returns the configured mentors in configuration order.
func (s *Service) Mentors() []Mentor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Mentor, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.mentors[id])
	}
	return out
}

// SystemInstruction returns the system prompt for agentID. Unknown IDs get
// a general assistant prompt.
func (s *Service) SystemInstruction(agentID string) string {
	s.mu.RLock()
	m, ok := s.mentors[agentID]
	s.mu.RUnlock()
	if !ok {
		return "Você é um assistente geral prestativo. Responda em Português do Brasil."
	}
	persona := m.Persona
	if persona == "" {
		persona = m.Description
	}
	persona = strings.TrimRight(strings.TrimSpace(persona), ".")
	return fmt.Sprintf("Você é o %s. %s. Aja estritamente como este personagem. "+
		"Seja prestativo, perspicaz e mantenha o tom de sua persona. "+
		"Responda em Português do Brasil. Suas respostas devem ser concisas e diretas.", m.Name, persona)
}

// SendChat returns the mentor's reply to history. The error is returned
// unchanged apart from wrapping; callers show it with friendly.Message.
func (s *Service) SendChat(ctx context.Context, agentID string, history []Turn) (string, error) {
	if len(history) == 0 {
		return "", ErrEmptyHistory
	}
	msgs := make([]llm.Message, 0, len(history))
	for _, t := range history {
		role := llm.RoleAssistant
		if t.Role == SenderUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}

	ctx, span := observe.StartSpan(ctx, "chat.SendChat")
	defer span.End()
	span.SetAttributes(attribute.String("chat.agent", agentID), attribute.Int("chat.turns", len(history)))

	start := time.Now()
	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: s.SystemInstruction(agentID),
		Messages:     msgs,
	})
	s.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("agent", agentID)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		s.metrics.RecordProviderRequest(ctx, s.providerName, "chat", "error")
		s.metrics.RecordProviderError(ctx, s.providerName, "chat")
		observe.LoggerFrom(ctx, s.log).Error("chat: completion failed", "agent", agentID, "err", err)
		return "", fmt.Errorf("chat: complete: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "chat", "ok")
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("chat: %s: %w", agentID, llm.ErrEmptyReply)
	}
	return resp.Content, nil
}
