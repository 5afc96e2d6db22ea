package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

const conversationKeyPrefix = "conversation:"

// ConversationStore keeps multi-turn session history in Redis. A nil
// store is a no-op, which makes every query single-turn.
type ConversationStore struct {
	client      *redis.Client
	ttl         time.Duration
	maxStored   int
	maxInPrompt int
}

// NewConversationStore wires session storage. client may be nil.
func NewConversationStore(client *redis.Client, ttl time.Duration, maxStored, maxInPrompt int) *ConversationStore {
	if maxStored <= 0 {
		maxStored = 10
	}
	if maxInPrompt <= 0 || maxInPrompt > maxStored {
		maxInPrompt = 5
	}
	return &ConversationStore{
		client:      client,
		ttl:         ttl,
		maxStored:   maxStored,
		maxInPrompt: maxInPrompt,
	}
}

// History returns the turns to include in the prompt, oldest first.
func (s *ConversationStore) History(ctx context.Context, conversationID string) []types.ConversationTurn {
	if s == nil || s.client == nil {
		return nil
	}
	turns := s.load(ctx, conversationID)
	if len(turns) > s.maxInPrompt {
		turns = turns[len(turns)-s.maxInPrompt:]
	}
	return turns
}

// Append records one completed exchange, trimming to the stored cap and
// refreshing the session TTL.
func (s *ConversationStore) Append(ctx context.Context, conversationID string, turn types.ConversationTurn) {
	if s == nil || s.client == nil || conversationID == "" {
		return
	}
	turns := s.load(ctx, conversationID)
	if len(turns) == 0 {
		logging.Audit().SessionStart(conversationID)
	}
	turns = append(turns, turn)
	if len(turns) > s.maxStored {
		turns = turns[len(turns)-s.maxStored:]
	}

	data, err := json.Marshal(turns)
	if err != nil {
		logging.SessionDebug("marshal history for %s: %v", conversationID, err)
		return
	}
	if err := s.client.Set(ctx, conversationKeyPrefix+conversationID, data, s.ttl).Err(); err != nil {
		logging.SessionDebug("store history for %s: %v", conversationID, err)
	}
}

// TurnCount reports how many turns the session currently holds.
func (s *ConversationStore) TurnCount(ctx context.Context, conversationID string) int {
	return len(s.load(ctx, conversationID))
}

func (s *ConversationStore) load(ctx context.Context, conversationID string) []types.ConversationTurn {
	if s == nil || s.client == nil || conversationID == "" {
		return nil
	}
	data, err := s.client.Get(ctx, conversationKeyPrefix+conversationID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.SessionDebug("load history for %s: %v", conversationID, err)
		}
		return nil
	}
	var turns []types.ConversationTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		logging.SessionDebug("corrupt history for %s, dropping: %v", conversationID, err)
		s.client.Del(ctx, conversationKeyPrefix+conversationID)
		return nil
	}
	return turns
}

// End deletes a session explicitly.
func (s *ConversationStore) End(ctx context.Context, conversationID string) error {
	if s == nil || s.client == nil || conversationID == "" {
		return nil
	}
	if err := s.client.Del(ctx, conversationKeyPrefix+conversationID).Err(); err != nil {
		return fmt.Errorf("end session %s: %w", conversationID, err)
	}
	return nil
}
