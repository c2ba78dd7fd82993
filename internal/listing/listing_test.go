package listing

import (
	"context"
	"testing"
	"time"

	"github.com/convene/messenger-service/internal/model"
	memsource "github.com/convene/messenger-service/internal/plugin/membership/memory"
	memstore "github.com/convene/messenger-service/internal/plugin/store/memory"
	"github.com/convene/messenger-service/internal/registry/membership"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConversation(t *testing.T, store *memstore.MemoryStore, editionID uuid.UUID, teamID *uuid.UUID, typ model.ConversationType, users ...string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.New(),
		EditionID: editionID,
		TeamID:    teamID,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateConversation(ctx, conv))
	for _, u := range users {
		require.NoError(t, store.CreateParticipant(ctx, &model.Participant{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			UserID:         u,
			JoinedAt:       now,
		}))
	}
	return conv.ID
}

func sendAt(t *testing.T, store *memstore.MemoryStore, convID uuid.UUID, author string, at time.Time) {
	t.Helper()
	require.NoError(t, store.AppendMessage(context.Background(), &model.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		AuthorUserID:   author,
		Content:        "hello",
		CreatedAt:      at,
	}))
}

func TestListConversationsUnreadCount(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewMemoryStore()
	view := NewView(store, memsource.NewSource())

	editionID := uuid.New()
	teamID := uuid.New()
	convID := newConversation(t, store, editionID, &teamID, model.TypeTeamGroup, "mia", "alex")

	readAt := time.Now()
	sendAt(t, store, convID, "mia", readAt.Add(-time.Minute))
	require.NoError(t, store.MarkRead(ctx, convID, "mia", readAt))
	sendAt(t, store, convID, "alex", readAt.Add(time.Minute))
	sendAt(t, store, convID, "alex", readAt.Add(2*time.Minute))
	// Own messages never count as unread.
	sendAt(t, store, convID, "mia", readAt.Add(3*time.Minute))

	summaries, err := view.ListConversations(ctx, editionID, "mia")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(2), summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "mia", summaries[0].LastMessage.AuthorUserID)
}

func TestListConversationsOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewMemoryStore()
	view := NewView(store, memsource.NewSource())

	editionID := uuid.New()
	teamA := uuid.New()
	teamB := uuid.New()
	older := newConversation(t, store, editionID, &teamA, model.TypeTeamGroup, "mia")
	newer := newConversation(t, store, editionID, &teamB, model.TypeTeamGroup, "mia")

	now := time.Now()
	sendAt(t, store, older, "mia", now.Add(-time.Hour))
	sendAt(t, store, newer, "mia", now)

	summaries, err := view.ListConversations(ctx, editionID, "mia")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, newer, summaries[0].Conversation.ID)
	assert.Equal(t, older, summaries[1].Conversation.ID)

	// A message in the older conversation moves it back to the top.
	sendAt(t, store, older, "mia", now.Add(time.Minute))
	summaries, err = view.ListConversations(ctx, editionID, "mia")
	require.NoError(t, err)
	assert.Equal(t, older, summaries[0].Conversation.ID)
}

func TestListConversationsLeaderFlagsRecomputed(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewMemoryStore()
	source := memsource.NewSource()
	view := NewView(store, source)

	editionID := uuid.New()
	teamID := uuid.New()
	newConversation(t, store, editionID, &teamID, model.TypeTeamGroup, "mia", "alex")

	source.AddAssignment(membership.Assignment{EditionID: editionID, TeamID: teamID, UserID: "mia"})
	source.AddAssignment(membership.Assignment{EditionID: editionID, TeamID: teamID, UserID: "alex", IsLeader: true})

	summaries, err := view.ListConversations(ctx, editionID, "mia")
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	flags := map[string]bool{}
	for _, p := range summaries[0].Participants {
		flags[p.UserID] = p.IsLeader
	}
	assert.False(t, flags["mia"])
	assert.True(t, flags["alex"])

	// Demotion shows up on the next call without any reprovisioning.
	source.SetLeader(teamID, "alex", false)
	summaries, err = view.ListConversations(ctx, editionID, "mia")
	require.NoError(t, err)
	for _, p := range summaries[0].Participants {
		assert.False(t, p.IsLeader, p.UserID)
	}
}

func TestListConversationsExcludesLeftAndOtherEditions(t *testing.T) {
	ctx := context.Background()
	store := memstore.NewMemoryStore()
	view := NewView(store, memsource.NewSource())

	editionID := uuid.New()
	teamID := uuid.New()
	left := newConversation(t, store, editionID, &teamID, model.TypeTeamGroup, "mia")
	require.NoError(t, store.MarkLeft(left, "mia", time.Now()))

	otherEdition := uuid.New()
	otherTeam := uuid.New()
	newConversation(t, store, otherEdition, &otherTeam, model.TypeTeamGroup, "mia")

	summaries, err := view.ListConversations(ctx, editionID, "mia")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestCanList(t *testing.T) {
	ctx := context.Background()
	source := memsource.NewSource()
	view := NewView(memstore.NewMemoryStore(), source)

	editionID := uuid.New()
	source.AddOrganizer(editionID, "org", false)
	source.AddOrganizer(uuid.New(), "boss", true)

	ok, err := view.CanList(ctx, editionID, "mia", "mia")
	require.NoError(t, err)
	assert.True(t, ok, "users see their own conversations")

	ok, err = view.CanList(ctx, editionID, "org", "mia")
	require.NoError(t, err)
	assert.True(t, ok, "edition organizers see anyone's")

	ok, err = view.CanList(ctx, editionID, "boss", "mia")
	require.NoError(t, err)
	assert.True(t, ok, "convention organizers see anyone's")

	ok, err = view.CanList(ctx, editionID, "stranger", "mia")
	require.NoError(t, err)
	assert.False(t, ok)
}
