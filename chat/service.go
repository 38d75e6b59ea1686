package chat

import (
	"context"
	"errors"

	"github.com/smallnest/chatmemory/log"
	"github.com/smallnest/chatmemory/memory"
)

// ErrEmptyInput is returned when the question is blank
var ErrEmptyInput = errors.New("user input is required")

// Service answers questions within a session
type Service struct {
	memory    *memory.SessionMemory
	retriever Retriever
	completer Completer
	logger    log.Logger
}

// NewService creates a service. A nil retriever means no passages.
func NewService(mem *memory.SessionMemory, retriever Retriever, completer Completer, logger log.Logger) *Service {
	if retriever == nil {
		retriever = NoRetriever{}
	}
	if logger == nil {
		logger = &log.NoOpLogger{}
	}
	return &Service{
		memory:    mem,
		retriever: retriever,
		completer: completer,
		logger:    logger,
	}
}

// Memory returns the session memory the service writes to
func (s *Service) Memory() *memory.SessionMemory {
	return s.memory
}

func (s *Service) prompt(ctx context.Context, userID, sessionID, input string) string {
	history := s.memory.Formatted(ctx, userID, sessionID)

	passages, err := s.retriever.Retrieve(ctx, input)
	if err != nil {
		// Answer without context rather than fail the question
		s.logger.Warn("retrieval failed for %s/%s: %v", userID, sessionID, err)
		passages = nil
	}

	return BuildPrompt(history, passages, input)
}

// Ask answers input and records the exchange. Nothing is recorded when the
// completer fails.
func (s *Service) Ask(ctx context.Context, userID, sessionID, input string) (string, error) {
	if input == "" {
		return "", ErrEmptyInput
	}

	answer, err := s.completer.Complete(ctx, s.prompt(ctx, userID, sessionID, input))
	if err != nil {
		return "", err
	}

	s.memory.AppendExchange(ctx, userID, sessionID, input, answer)
	return answer, nil
}

// AskStream streams the answer through onToken and records the joined
// answer once the stream ends. A partial answer is not recorded.
func (s *Service) AskStream(ctx context.Context, userID, sessionID, input string, onToken func(string) error) (string, error) {
	if input == "" {
		return "", ErrEmptyInput
	}

	answer, err := s.completer.Stream(ctx, s.prompt(ctx, userID, sessionID, input), onToken)
	if err != nil {
		return answer, err
	}

	// The request context may already be done once the client has read everything
	s.memory.AppendExchange(context.WithoutCancel(ctx), userID, sessionID, input, answer)
	return answer, nil
}
