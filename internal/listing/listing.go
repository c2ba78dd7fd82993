// Package listing materializes the per-user conversation list: every
// conversation the user actively participates in, with last-message preview,
// leader-flagged participants, and live unread counts.
package listing

import (
	"context"

	"github.com/convene/messenger-service/internal/registry/membership"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/google/uuid"
)

// View serves conversation listings.
type View struct {
	store  registrystore.ConversationStore
	source membership.Source
}

// NewView creates a listing view.
func NewView(store registrystore.ConversationStore, source membership.Source) *View {
	return &View{store: store, source: source}
}

// ListConversations returns the user's conversations in the edition, ordered
// by most recent activity. Leader flags are recomputed from the current team
// assignments on every call so promotions and demotions show up immediately.
// Either the full list is returned or the call fails; no partial results.
func (v *View) ListConversations(ctx context.Context, editionID uuid.UUID, userID string) ([]registrystore.ConversationSummary, error) {
	summaries, err := v.store.ListConversationSummaries(ctx, editionID, userID)
	if err != nil {
		return nil, err
	}

	// One assignment load per distinct team, shared by all of its
	// conversations in the list.
	leadersByTeam := map[uuid.UUID]map[string]bool{}
	for i := range summaries {
		conv := summaries[i].Conversation
		if !conv.Type.TeamScoped() || conv.TeamID == nil {
			continue
		}
		teamID := *conv.TeamID
		leaders, ok := leadersByTeam[teamID]
		if !ok {
			leaders, err = v.TeamLeaders(ctx, conv.EditionID, teamID)
			if err != nil {
				return nil, err
			}
			leadersByTeam[teamID] = leaders
		}
		for j := range summaries[i].Participants {
			summaries[i].Participants[j].IsLeader = leaders[summaries[i].Participants[j].UserID]
		}
	}
	return summaries, nil
}

// CanList reports whether the caller may list the target user's conversations
// in the edition. Users always see their own; organizers (edition-scoped or
// convention-wide) may see anyone's.
func (v *View) CanList(ctx context.Context, editionID uuid.UUID, callerUserID, targetUserID string) (bool, error) {
	if callerUserID == targetUserID {
		return true, nil
	}
	ok, err := v.source.IsEditionOrganizer(ctx, editionID, callerUserID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return v.source.IsConventionOrganizer(ctx, callerUserID)
}

// TeamLeaders returns the set of current leader user IDs of a team.
func (v *View) TeamLeaders(ctx context.Context, editionID, teamID uuid.UUID) (map[string]bool, error) {
	assignments, err := v.source.AcceptedAssignments(ctx, membership.Scope{
		EditionID: editionID,
		TeamID:    &teamID,
	})
	if err != nil {
		return nil, err
	}
	leaders := map[string]bool{}
	for _, a := range assignments {
		if a.IsLeader {
			leaders[a.UserID] = true
		}
	}
	return leaders, nil
}
