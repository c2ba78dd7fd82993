package provision

import (
	"context"
	"errors"
	"time"

	"github.com/convene/messenger-service/internal/model"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/convene/messenger-service/internal/security"
	"github.com/google/uuid"
)

// Action is the reconciliation decision for one (conversation, user) pair.
type Action int

const (
	// ActionNone means the participant row exists and is active.
	ActionNone Action = iota
	// ActionCreate means no row exists for the pair.
	ActionCreate
	// ActionReactivate means a row exists but carries a left timestamp.
	ActionReactivate
)

// DecideParticipant maps the current participant state to the action that
// makes the user active. Pure function; the caller applies the action.
func DecideParticipant(existing *model.Participant) Action {
	switch {
	case existing == nil:
		return ActionCreate
	case existing.Active():
		return ActionNone
	default:
		return ActionReactivate
	}
}

// ensureActiveParticipant makes userID an active participant of the
// conversation. Creates the row if absent, clears the left timestamp if the
// user previously left, and leaves an already-active row untouched. LastReadAt
// is never modified. Idempotent.
func ensureActiveParticipant(ctx context.Context, s registrystore.ConversationStore, conversationID uuid.UUID, userID string) error {
	existing, err := s.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		var notFound *registrystore.NotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
		existing = nil
	}

	switch DecideParticipant(existing) {
	case ActionNone:
		return nil
	case ActionReactivate:
		return reactivate(ctx, s, existing.ID)
	}

	p := &model.Participant{
		ID:             uuid.New(),
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       time.Now(),
	}
	err = s.CreateParticipant(ctx, p)
	if err == nil {
		return nil
	}
	var conflict *registrystore.ConflictError
	if !errors.As(err, &conflict) {
		return err
	}
	// Another writer inserted the row first. Re-read and reactivate if that
	// writer's row has since been marked left.
	existing, err = s.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if existing.Active() {
		return nil
	}
	return reactivate(ctx, s, existing.ID)
}

func reactivate(ctx context.Context, s registrystore.ConversationStore, participantID uuid.UUID) error {
	if err := s.ReactivateParticipant(ctx, participantID); err != nil {
		return err
	}
	if security.ParticipantsReactivatedTotal != nil {
		security.ParticipantsReactivatedTotal.Inc()
	}
	return nil
}
