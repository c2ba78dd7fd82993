package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/convene/messenger-service/internal/config"
	"github.com/convene/messenger-service/internal/model"
	"github.com/convene/messenger-service/internal/plugin/store/postgres"
	registrymigrate "github.com/convene/messenger-service/internal/registry/migrate"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/convene/messenger-service/internal/testutil/testpg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var _ = postgres.ForceImport

type pgFixture struct {
	ctx   context.Context
	store registrystore.ConversationStore
	db    *gorm.DB
}

func startStore(t *testing.T) *pgFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	cfg := config.DefaultConfig()
	cfg.DBURL = testpg.StartPostgres(t)
	cfg.DatastoreType = "postgres"
	cfg.DatastoreMigrateAtStart = true

	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	db, err := gorm.Open(gormpostgres.Open(cfg.DBURL), &gorm.Config{})
	require.NoError(t, err)

	return &pgFixture{ctx: ctx, store: store, db: db}
}

func (f *pgFixture) createConversation(t *testing.T, editionID uuid.UUID, teamID *uuid.UUID, typ model.ConversationType) *model.Conversation {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	conv := &model.Conversation{
		ID:        uuid.New(),
		EditionID: editionID,
		TeamID:    teamID,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateConversation(f.ctx, conv))
	return conv
}

func (f *pgFixture) join(t *testing.T, conversationID uuid.UUID, userID string) *model.Participant {
	t.Helper()
	p := &model.Participant{
		ID:             uuid.New(),
		ConversationID: conversationID,
		UserID:         userID,
		JoinedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, f.store.CreateParticipant(f.ctx, p))
	return p
}

func (f *pgFixture) send(t *testing.T, conversationID uuid.UUID, author, content string, at time.Time) {
	t.Helper()
	require.NoError(t, f.store.AppendMessage(f.ctx, &model.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		AuthorUserID:   author,
		Content:        content,
		CreatedAt:      at,
	}))
}

func TestPostgresStore(t *testing.T) {
	f := startStore(t)

	t.Run("team group uniqueness", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()
		first := f.createConversation(t, editionID, &teamID, model.TypeTeamGroup)

		err := f.store.CreateConversation(f.ctx, &model.Conversation{
			ID:        uuid.New(),
			EditionID: editionID,
			TeamID:    &teamID,
			Type:      model.TypeTeamGroup,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
		var conflict *registrystore.ConflictError
		require.True(t, errors.As(err, &conflict), "expected conflict, got %v", err)

		found, err := f.store.FindTeamGroup(f.ctx, editionID, teamID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)
	})

	t.Run("leader privates are not unique per team", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()
		f.createConversation(t, editionID, &teamID, model.TypeTeamLeaderPrivate)
		f.createConversation(t, editionID, &teamID, model.TypeTeamLeaderPrivate)

		privates, err := f.store.ListLeaderPrivates(f.ctx, editionID, teamID)
		require.NoError(t, err)
		assert.Len(t, privates, 2)
	})

	t.Run("team scoped conversation requires team", func(t *testing.T) {
		err := f.store.CreateConversation(f.ctx, &model.Conversation{
			ID:        uuid.New(),
			EditionID: uuid.New(),
			Type:      model.TypeTeamGroup,
		})
		var validation *registrystore.ValidationError
		assert.True(t, errors.As(err, &validation))
	})

	t.Run("participant uniqueness", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()
		conv := f.createConversation(t, editionID, &teamID, model.TypeTeamGroup)
		f.join(t, conv.ID, "mia")

		err := f.store.CreateParticipant(f.ctx, &model.Participant{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			UserID:         "mia",
			JoinedAt:       time.Now(),
		})
		var conflict *registrystore.ConflictError
		assert.True(t, errors.As(err, &conflict), "expected conflict, got %v", err)
	})

	t.Run("reactivate preserves last read", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()
		conv := f.createConversation(t, editionID, &teamID, model.TypeTeamLeaderPrivate)
		p := f.join(t, conv.ID, "mia")

		readAt := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, f.store.MarkRead(f.ctx, conv.ID, "mia", readAt))

		// Leaving is driven by the main application; emulate it directly.
		require.NoError(t, f.db.Model(&model.Participant{}).
			Where("id = ?", p.ID).
			Update("left_at", time.Now()).Error)

		require.NoError(t, f.store.ReactivateParticipant(f.ctx, p.ID))

		got, err := f.store.GetParticipant(f.ctx, conv.ID, "mia")
		require.NoError(t, err)
		assert.Nil(t, got.LeftAt)
		require.NotNil(t, got.LastReadAt)
		assert.True(t, got.LastReadAt.Equal(readAt))
	})

	t.Run("reactivate unknown participant", func(t *testing.T) {
		err := f.store.ReactivateParticipant(f.ctx, uuid.New())
		var notFound *registrystore.NotFoundError
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("append message bumps activity", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()
		conv := f.createConversation(t, editionID, &teamID, model.TypeTeamGroup)
		f.join(t, conv.ID, "mia")

		at := time.Now().UTC().Truncate(time.Microsecond).Add(time.Hour)
		f.send(t, conv.ID, "mia", "hello", at)

		got, err := f.store.GetConversation(f.ctx, conv.ID)
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.Equal(at))
	})

	t.Run("append message forbidden for non participant", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()
		conv := f.createConversation(t, editionID, &teamID, model.TypeTeamGroup)
		f.join(t, conv.ID, "mia")

		err := f.store.AppendMessage(f.ctx, &model.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			AuthorUserID:   "stranger",
			Content:        "hello",
			CreatedAt:      time.Now(),
		})
		var forbidden *registrystore.ForbiddenError
		assert.True(t, errors.As(err, &forbidden))
	})

	t.Run("mark read unknown participant", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()
		conv := f.createConversation(t, editionID, &teamID, model.TypeTeamGroup)

		err := f.store.MarkRead(f.ctx, conv.ID, "stranger", time.Now())
		var notFound *registrystore.NotFoundError
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("list conversation summaries", func(t *testing.T) {
		editionID := uuid.New()
		teamA := uuid.New()
		teamB := uuid.New()
		convA := f.createConversation(t, editionID, &teamA, model.TypeTeamGroup)
		convB := f.createConversation(t, editionID, &teamB, model.TypeTeamGroup)
		f.join(t, convA.ID, "mia")
		f.join(t, convA.ID, "alex")
		f.join(t, convB.ID, "mia")

		base := time.Now().UTC().Truncate(time.Microsecond)
		f.send(t, convA.ID, "mia", "from mia", base.Add(time.Minute))
		require.NoError(t, f.store.MarkRead(f.ctx, convA.ID, "mia", base.Add(2*time.Minute)))
		f.send(t, convA.ID, "alex", "unread one", base.Add(3*time.Minute))
		f.send(t, convA.ID, "alex", "unread two", base.Add(4*time.Minute))
		f.send(t, convB.ID, "mia", "solo note", base.Add(5*time.Minute))

		summaries, err := f.store.ListConversationSummaries(f.ctx, editionID, "mia")
		require.NoError(t, err)
		require.Len(t, summaries, 2)

		// Ordered by most recent activity.
		assert.Equal(t, convB.ID, summaries[0].Conversation.ID)
		assert.Equal(t, convA.ID, summaries[1].Conversation.ID)

		assert.Equal(t, int64(0), summaries[0].UnreadCount)
		assert.Equal(t, int64(2), summaries[1].UnreadCount)

		require.NotNil(t, summaries[1].LastMessage)
		assert.Equal(t, "alex", summaries[1].LastMessage.AuthorUserID)
		assert.Equal(t, "unread two", summaries[1].LastMessage.Preview)

		assert.Len(t, summaries[1].Participants, 2)
	})

	t.Run("left participants drop out of listings", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()
		conv := f.createConversation(t, editionID, &teamID, model.TypeTeamGroup)
		p := f.join(t, conv.ID, "mia")

		require.NoError(t, f.db.Model(&model.Participant{}).
			Where("id = ?", p.ID).
			Update("left_at", time.Now()).Error)

		summaries, err := f.store.ListConversationSummaries(f.ctx, editionID, "mia")
		require.NoError(t, err)
		assert.Empty(t, summaries)
	})

	t.Run("transact serializes team provisioning", func(t *testing.T) {
		editionID := uuid.New()
		teamID := uuid.New()

		err := f.store.Transact(f.ctx, func(tx registrystore.ConversationStore) error {
			conv := &model.Conversation{
				ID:        uuid.New(),
				EditionID: editionID,
				TeamID:    &teamID,
				Type:      model.TypeTeamGroup,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			if err := tx.CreateConversation(f.ctx, conv); err != nil {
				return err
			}
			return tx.CreateParticipant(f.ctx, &model.Participant{
				ID:             uuid.New(),
				ConversationID: conv.ID,
				UserID:         "mia",
				JoinedAt:       time.Now(),
			})
		})
		require.NoError(t, err)

		conv, err := f.store.FindTeamGroup(f.ctx, editionID, teamID)
		require.NoError(t, err)
		participants, err := f.store.ActiveParticipants(f.ctx, conv.ID)
		require.NoError(t, err)
		assert.Len(t, participants, 1)
	})
}
