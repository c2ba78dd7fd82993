package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/convene/messenger-service/internal/config"
	"github.com/convene/messenger-service/internal/model"
	registrycache "github.com/convene/messenger-service/internal/registry/cache"
	registrymigrate "github.com/convene/messenger-service/internal/registry/migrate"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/convene/messenger-service/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &PostgresStore{
				db:           db,
				cfg:          cfg,
				previewCache: registrycache.PreviewCacheFromContext(ctx),
			}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "postgres" {
		return nil // skip if not using postgres
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// PostgresStore implements ConversationStore using GORM + PostgreSQL.
type PostgresStore struct {
	db           *gorm.DB
	cfg          *config.Config
	previewCache registrycache.MessagePreviewCache
}

// translateError maps driver errors to the store error taxonomy.
func translateError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &ConflictError{Message: fmt.Sprintf("%s already exists", resource)}
	}
	return err
}

func (s *PostgresStore) previewMaxLength() int {
	if s.cfg != nil && s.cfg.PreviewMaxLength > 0 {
		return s.cfg.PreviewMaxLength
	}
	return 160
}

func (s *PostgresStore) observe(op string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// --- Conversations ---

func (s *PostgresStore) FindTeamGroup(ctx context.Context, editionID, teamID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("edition_id = ? AND team_id = ? AND type = ?", editionID, teamID, model.TypeTeamGroup).
		First(&conv).Error
	if err != nil {
		return nil, translateError(err, "conversation", teamID.String())
	}
	return &conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error
	if err != nil {
		return nil, translateError(err, "conversation", conversationID.String())
	}
	return &conv, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	defer s.observe("create_conversation", time.Now())
	if conv.Type.TeamScoped() && conv.TeamID == nil {
		return &ValidationError{Field: "teamId", Message: "required for team-scoped conversations"}
	}
	return translateError(s.db.WithContext(ctx).Create(conv).Error, "conversation", conv.ID.String())
}

func (s *PostgresStore) ListLeaderPrivates(ctx context.Context, editionID, teamID uuid.UUID) ([]registrystore.ConversationParticipants, error) {
	defer s.observe("list_leader_privates", time.Now())

	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("edition_id = ? AND team_id = ? AND type = ?", editionID, teamID, model.TypeTeamLeaderPrivate).
		Order("created_at").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	var participants []model.Participant
	if err := s.db.WithContext(ctx).Where("conversation_id IN ?", ids).Find(&participants).Error; err != nil {
		return nil, err
	}

	byConv := make(map[uuid.UUID]*registrystore.ConversationParticipants, len(convs))
	out := make([]registrystore.ConversationParticipants, len(convs))
	for i, c := range convs {
		out[i] = registrystore.ConversationParticipants{Conversation: c}
		byConv[c.ID] = &out[i]
	}
	for _, p := range participants {
		cp := byConv[p.ConversationID]
		if cp == nil {
			continue
		}
		cp.AllUserIDs = append(cp.AllUserIDs, p.UserID)
		if p.Active() {
			cp.ActiveUserIDs = append(cp.ActiveUserIDs, p.UserID)
		}
	}
	return out, nil
}

// --- Participants ---

func (s *PostgresStore) GetParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (*model.Participant, error) {
	var p model.Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return nil, translateError(err, "participant", userID)
	}
	return &p, nil
}

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	defer s.observe("create_participant", time.Now())
	return translateError(s.db.WithContext(ctx).Create(p).Error, "participant", p.UserID)
}

func (s *PostgresStore) ReactivateParticipant(ctx context.Context, participantID uuid.UUID) error {
	defer s.observe("reactivate_participant", time.Now())
	res := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("id = ?", participantID).
		Update("left_at", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "participant", ID: participantID.String()}
	}
	return nil
}

func (s *PostgresStore) ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error) {
	var participants []model.Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Order("joined_at").
		Find(&participants).Error
	return participants, err
}

// --- Messages ---

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	defer s.observe("append_message", time.Now())

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Participant
		err := tx.Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", msg.ConversationID, msg.AuthorUserID).
			First(&p).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ForbiddenError{}
			}
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return translateError(err, "message", msg.ID.String())
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt).Error
	})
	if err != nil {
		return err
	}

	if security.MessagesAppendedTotal != nil {
		security.MessagesAppendedTotal.Inc()
	}
	if s.previewCache != nil && s.previewCache.Available() {
		preview := registrystore.MessagePreview{
			ID:           msg.ID,
			AuthorUserID: msg.AuthorUserID,
			Preview:      truncate(msg.Content, s.previewMaxLength()),
			CreatedAt:    msg.CreatedAt,
		}
		ttl := 10 * time.Minute
		if s.cfg != nil && s.cfg.PreviewCacheTTL > 0 {
			ttl = s.cfg.PreviewCacheTTL
		}
		if err := s.previewCache.Set(ctx, msg.ConversationID, preview, ttl); err != nil {
			log.Warn("Failed to update preview cache", "conversationId", msg.ConversationID, "err", err)
		}
	}
	return nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, at time.Time) error {
	defer s.observe("mark_read", time.Now())
	res := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ? AND left_at IS NULL", conversationID, userID).
		Update("last_read_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &NotFoundError{Resource: "participant", ID: userID}
	}
	return nil
}

// --- Listing ---

type unreadRow struct {
	ConversationID uuid.UUID
	Count          int64
}

type previewRow struct {
	ConversationID uuid.UUID
	ID             uuid.UUID
	AuthorUserID   string
	Content        string
	CreatedAt      time.Time
}

func (s *PostgresStore) ListConversationSummaries(ctx context.Context, editionID uuid.UUID, userID string) ([]registrystore.ConversationSummary, error) {
	defer s.observe("list_conversation_summaries", time.Now())

	var convs []model.Conversation
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Joins("JOIN participants p ON p.conversation_id = conversations.id AND p.user_id = ? AND p.left_at IS NULL", userID).
		Where("conversations.edition_id = ? OR conversations.application_id IN (SELECT id FROM applications WHERE edition_id = ?)",
			editionID, editionID).
		Order("conversations.updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(convs))
	summaries := make([]registrystore.ConversationSummary, len(convs))
	byConv := make(map[uuid.UUID]*registrystore.ConversationSummary, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		summaries[i] = registrystore.ConversationSummary{Conversation: c}
		byConv[c.ID] = &summaries[i]
	}

	// Active participants of every listed conversation.
	var participants []model.Participant
	if err := s.db.WithContext(ctx).
		Where("conversation_id IN ? AND left_at IS NULL", ids).
		Order("joined_at").
		Find(&participants).Error; err != nil {
		return nil, err
	}
	for _, p := range participants {
		sum := byConv[p.ConversationID]
		sum.Participants = append(sum.Participants, registrystore.ParticipantInfo{
			UserID:     p.UserID,
			JoinedAt:   p.JoinedAt,
			LastReadAt: p.LastReadAt,
		})
	}

	if err := s.attachPreviews(ctx, ids, byConv); err != nil {
		return nil, err
	}

	// Unread counts are always computed live against the current message and
	// last-read state; they never touch the cache.
	var unread []unreadRow
	err = s.db.WithContext(ctx).Raw(`
		SELECT m.conversation_id, COUNT(*) AS count
		FROM messages m
		JOIN participants p ON p.conversation_id = m.conversation_id
			AND p.user_id = ? AND p.left_at IS NULL
		WHERE m.conversation_id IN ?
			AND m.deleted_at IS NULL
			AND m.author_user_id <> ?
			AND m.created_at > COALESCE(p.last_read_at, 'epoch'::timestamptz)
		GROUP BY m.conversation_id`, userID, ids, userID).
		Scan(&unread).Error
	if err != nil {
		return nil, err
	}
	for _, row := range unread {
		byConv[row.ConversationID].UnreadCount = row.Count
	}

	return summaries, nil
}

// attachPreviews fills LastMessage for each summary, consulting the preview
// cache first and falling back to one DISTINCT ON query for all misses.
func (s *PostgresStore) attachPreviews(ctx context.Context, ids []uuid.UUID, byConv map[uuid.UUID]*registrystore.ConversationSummary) error {
	missing := ids
	if s.previewCache != nil && s.previewCache.Available() {
		missing = missing[:0:0]
		for _, id := range ids {
			preview, err := s.previewCache.Get(ctx, id)
			if err != nil {
				log.Warn("Preview cache read failed", "conversationId", id, "err", err)
			}
			if preview != nil {
				if security.CacheHitsTotal != nil {
					security.CacheHitsTotal.Inc()
				}
				byConv[id].LastMessage = preview
				continue
			}
			if security.CacheMissesTotal != nil {
				security.CacheMissesTotal.Inc()
			}
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var rows []previewRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (conversation_id)
			conversation_id, id, author_user_id, content, created_at
		FROM messages
		WHERE conversation_id IN ? AND deleted_at IS NULL
		ORDER BY conversation_id, created_at DESC`, missing).
		Scan(&rows).Error
	if err != nil {
		return err
	}
	ttl := 10 * time.Minute
	if s.cfg != nil && s.cfg.PreviewCacheTTL > 0 {
		ttl = s.cfg.PreviewCacheTTL
	}
	for _, row := range rows {
		preview := registrystore.MessagePreview{
			ID:           row.ID,
			AuthorUserID: row.AuthorUserID,
			Preview:      truncate(row.Content, s.previewMaxLength()),
			CreatedAt:    row.CreatedAt,
		}
		byConv[row.ConversationID].LastMessage = &preview
		if s.previewCache != nil && s.previewCache.Available() {
			if err := s.previewCache.Set(ctx, row.ConversationID, preview, ttl); err != nil {
				log.Warn("Preview cache write failed", "conversationId", row.ConversationID, "err", err)
			}
		}
	}
	return nil
}

// --- Transactions ---

func (s *PostgresStore) Transact(ctx context.Context, fn func(tx registrystore.ConversationStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx, cfg: s.cfg, previewCache: s.previewCache})
	})
}

func truncate(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}
