// Package assistant answers free-text messages with the completion oracle.
// Oracle failures never reach the caller; the user gets a fixed apology.
package assistant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/store"
)

const (
	// SystemPrompt frames every assistant completion.
	SystemPrompt = "Você é um assistente de vendas prestativo e amigável. Mantenha as respostas curtas e diretas. Se o cliente perguntar sobre produtos ou preços, sugira usar o comando 'produtos'."

	// Apology is returned whenever the oracle cannot answer.
	Apology = "Desculpe, não entendi. Como posso ajudar com nossos produtos?"

	sentimentPrompt = "Classifique o sentimento da mensagem do cliente. Responda apenas com uma palavra: positive, negative ou neutral."

	DefaultHistory       = 5
	DefaultTimeout       = 15 * time.Second
	DefaultFollowupDelay = time.Second
)

// Oracle produces a reply from a system prompt and turns, oldest first.
type Oracle interface {
	Complete(ctx context.Context, systemPrompt string, turns []models.ConversationTurn) (string, error)
}

// FollowupScheduler queues the menu reminder sent after an assistant reply.
type FollowupScheduler interface {
	ScheduleFollowup(userID string, delay time.Duration) error
}

// Opts configures an Assistant.
type Opts struct {
	History       int
	Timeout       time.Duration
	FollowupDelay time.Duration
	Sentiment     bool
	Followups     FollowupScheduler
}

// Option configures an Assistant.
type Option func(*Opts)

// WithHistory sets how many stored turns are sent as context.
func WithHistory(n int) Option {
	return func(o *Opts) { o.History = n }
}

// WithTimeout bounds each oracle call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithFollowup schedules a menu reminder delay after every reply.
func WithFollowup(s FollowupScheduler, delay time.Duration) Option {
	return func(o *Opts) {
		o.Followups = s
		o.FollowupDelay = delay
	}
}

// WithSentiment tags stored user turns with a second oracle call.
func WithSentiment(enabled bool) Option {
	return func(o *Opts) { o.Sentiment = enabled }
}

// Assistant is the AI fallback used for free text.
type Assistant struct {
	oracle    Oracle
	turns     store.ConversationRepo
	history   int
	timeout   time.Duration
	delay     time.Duration
	sentiment bool
	followups FollowupScheduler
	now       func() time.Time
}

// New returns an Assistant that keeps its transcript in turns.
func New(oracle Oracle, turns store.ConversationRepo, opts ...Option) *Assistant {
	cfg := Opts{History: DefaultHistory, Timeout: DefaultTimeout, FollowupDelay: DefaultFollowupDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FollowupDelay < 0 {
		cfg.FollowupDelay = DefaultFollowupDelay
	}
	return &Assistant{
		oracle:    oracle,
		turns:     turns,
		history:   cfg.History,
		timeout:   cfg.Timeout,
		delay:     cfg.FollowupDelay,
		sentiment: cfg.Sentiment,
		followups: cfg.Followups,
		now:       time.Now,
	}
}

// Respond answers text for userID. It always returns something to send.
func (a *Assistant) Respond(ctx context.Context, userID, text string) string {
	recent, err := a.turns.RecentTurns(userID, a.history)
	if err != nil {
		slog.Warn("Assistant.Respond: loading history failed", "userID", userID, "error", err)
		recent = nil
	}

	userTurn := models.ConversationTurn{Sender: models.SenderUser, Content: text, Timestamp: a.now()}
	reply := a.complete(ctx, userID, append(recent, userTurn))

	if a.sentiment {
		userTurn.Sentiment = a.classify(ctx, text)
	}
	a.record(userID, userTurn)
	a.record(userID, models.ConversationTurn{Sender: models.SenderBot, Content: reply, Timestamp: a.now()})

	if a.followups != nil {
		if err := a.followups.ScheduleFollowup(userID, a.delay); err != nil {
			slog.Warn("Assistant.Respond: scheduling follow-up failed", "userID", userID, "error", err)
		}
	}
	return reply
}

func (a *Assistant) complete(ctx context.Context, userID string, turns []models.ConversationTurn) string {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.oracle.Complete(cctx, SystemPrompt, turns)
	if err != nil {
		slog.Error("Assistant.Respond: oracle failed", "userID", userID, "error", err)
		return Apology
	}
	out = strings.TrimSpace(out)
	if out == "" {
		slog.Warn("Assistant.Respond: oracle returned empty reply", "userID", userID)
		return Apology
	}
	return out
}

// classify returns the sentiment of text, neutral when the oracle fails.
func (a *Assistant) classify(ctx context.Context, text string) models.Sentiment {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.oracle.Complete(cctx, sentimentPrompt, []models.ConversationTurn{{Sender: models.SenderUser, Content: text}})
	if err != nil {
		slog.Debug("Assistant.classify: oracle failed, using neutral", "error", err)
		return models.SentimentNeutral
	}
	return ParseSentiment(out)
}

// ParseSentiment maps an oracle label to a Sentiment.
func ParseSentiment(label string) models.Sentiment {
	label = strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.HasPrefix(label, string(models.SentimentPositive)):
		return models.SentimentPositive
	case strings.HasPrefix(label, string(models.SentimentNegative)):
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func (a *Assistant) record(userID string, turn models.ConversationTurn) {
	if err := a.turns.AppendTurn(userID, turn); err != nil {
		slog.Warn("Assistant.record: append turn failed", "userID", userID, "sender", turn.Sender, "error", err)
	}
}
