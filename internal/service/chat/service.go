package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"roastchat/internal/logger"
	"roastchat/internal/models"
	"roastchat/internal/service/conversation"
	"roastchat/internal/service/roast"
)

// FailurePrefix marks assistant messages that report a failed generation.
const FailurePrefix = "Error: "

var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrBusy         = errors.New("a reply is already being generated")
)

// ReplyGenerator produces the assistant reply for one user message.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, message string, history []models.Message, tone roast.Tone) (string, error)
}

// Exchange is the outcome of one Send.
type Exchange struct {
	Conversation models.Conversation `json:"conversation"`
	User         models.Message      `json:"user"`
	Reply        models.Message      `json:"reply"`
	Failed       bool                `json:"failed"`
}

// Service appends user messages, asks the generator for a roast and records
// whatever comes back. Only one send runs at a time.
type Service struct {
	store     *conversation.Store
	generator ReplyGenerator
	log       *logger.Logger

	inflight sync.Mutex
}

func NewService(store *conversation.Store, generator ReplyGenerator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, generator: generator, log: log}
}

// Send posts text to conversationID, or to the current conversation when the
// id is empty. A generation failure is not returned as an error: it is stored
// as an assistant message carrying FailurePrefix and Exchange.Failed is set.
// Cancelling ctx does not interrupt an exchange once it has started.
func (s *Service) Send(ctx context.Context, conversationID, text string) (*Exchange, error) {
	ctx = context.WithoutCancel(ctx)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if !s.inflight.TryLock() {
		return nil, ErrBusy
	}
	defer s.inflight.Unlock()

	if conversationID == "" {
		current, err := s.store.EnsureCurrent(ctx)
		if err != nil {
			return nil, fmt.Errorf("ensure conversation: %w", err)
		}
		conversationID = current.ID
	}

	prior, err := s.store.GetMessages(conversationID)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.AppendMessage(ctx, conversationID, models.RoleUser, text)
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	ex := &Exchange{
		Conversation: conv,
		User:         models.Message{Role: models.RoleUser, Content: text},
	}
	reply, genErr := s.generator.GenerateReply(ctx, text, modelHistory(prior), "")
	if genErr != nil {
		s.log.Warn("roast generation failed", "conversation", conversationID, "error", genErr)
		reply = FailurePrefix + roast.UserMessage(genErr)
		ex.Failed = true
	}
	ex.Reply = models.Message{Role: models.RoleAssistant, Content: reply}

	conv, err = s.store.AppendMessage(ctx, conversationID, models.RoleAssistant, reply)
	if err != nil {
		return nil, fmt.Errorf("append reply: %w", err)
	}
	ex.Conversation = conv
	return ex, nil
}

// modelHistory drops earlier failure notices so they are never replayed to
// the model.
func modelHistory(log []models.Message) []models.Message {
	out := make([]models.Message, 0, len(log))
	for _, m := range log {
		if m.Role == models.RoleAssistant && strings.HasPrefix(m.Content, FailurePrefix) {
			continue
		}
		out = append(out, m)
	}
	return out
}
