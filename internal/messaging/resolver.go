package messaging

import (
	"context"
	"errors"

	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

// Resolver maps an unordered pair of users to their single conversation.
type Resolver struct {
	convs repositories.ConversationRepository
	pairs *keyedMutex[[2]int64]
}

// NewResolver constructs a Resolver over the conversation store.
func NewResolver(convs repositories.ConversationRepository) *Resolver {
	return &Resolver{convs: convs, pairs: newKeyedMutex[[2]int64]()}
}

// FindOrCreate returns the conversation for {userA, userB}, creating it on first use.
// Calls for the same pair are serialized in-process; the store's unique constraint
// covers everything else.
func (r *Resolver) FindOrCreate(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	if err := validPair(userA, userB); err != nil {
		return models.Conversation{}, err
	}
	user1, user2 := repositories.CanonicalPair(userA, userB)

	unlock := r.pairs.Lock([2]int64{user1, user2})
	defer unlock()

	conv, err := r.convs.FindOrCreate(ctx, user1, user2)
	if err != nil {
		return models.Conversation{}, storeUnavailable("find or create conversation", err)
	}
	return conv, nil
}

// Find returns the conversation for the pair without creating one.
func (r *Resolver) Find(ctx context.Context, userA, userB int64) (models.Conversation, bool, error) {
	if err := validPair(userA, userB); err != nil {
		return models.Conversation{}, false, err
	}
	conv, err := r.convs.FindByPair(ctx, userA, userB)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, storeUnavailable("find conversation", err)
	}
	return conv, true, nil
}

// Peers lists every user sharing a conversation with userID.
func (r *Resolver) Peers(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := r.convs.ListPeerIDs(ctx, userID)
	if err != nil {
		return nil, storeUnavailable("list peers", err)
	}
	return ids, nil
}

func validPair(userA, userB int64) error {
	if userA <= 0 || userB <= 0 {
		return invalidf("user ids must be positive")
	}
	if userA == userB {
		return invalidf("cannot chat with yourself")
	}
	return nil
}
