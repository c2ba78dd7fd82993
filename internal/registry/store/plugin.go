package store

import (
	"context"
	"fmt"
	"time"

	"github.com/convene/messenger-service/internal/model"
	"github.com/google/uuid"
)

// ConversationParticipants pairs a conversation with its participant user
// IDs. ActiveUserIDs holds users whose rows have no left timestamp;
// AllUserIDs additionally includes users who left (their rows are reused on
// reactivation).
type ConversationParticipants struct {
	Conversation  model.Conversation
	ActiveUserIDs []string
	AllUserIDs    []string
}

// MessagePreview is the most recent non-deleted message of a conversation,
// trimmed for list views.
type MessagePreview struct {
	ID           uuid.UUID `json:"id"`
	AuthorUserID string    `json:"authorUserId"`
	Preview      string    `json:"preview"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ParticipantInfo is one active participant in a list view. IsLeader is
// derived from the current team assignments on every listing call, never
// stored.
type ParticipantInfo struct {
	UserID     string     `json:"userId"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
	IsLeader   bool       `json:"isLeader"`
}

// ConversationSummary is one conversation in the listing view: the
// conversation itself, its latest message, its active participants, and the
// caller's unread count computed at call time.
type ConversationSummary struct {
	Conversation model.Conversation `json:"conversation"`
	LastMessage  *MessagePreview    `json:"lastMessage,omitempty"`
	Participants []ParticipantInfo  `json:"participants"`
	UnreadCount  int64              `json:"unreadCount"`
}

// ConversationStore is the data access interface for conversations,
// participants, and messages. Implementations back it with a transactional
// store; all provisioning writes go through it.
type ConversationStore interface {
	// FindTeamGroup returns the team-group conversation for (edition, team),
	// or a NotFoundError when none exists.
	FindTeamGroup(ctx context.Context, editionID, teamID uuid.UUID) (*model.Conversation, error)

	// GetConversation returns a conversation by ID.
	GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error)

	// CreateConversation inserts a new conversation. A uniqueness violation
	// (two writers racing to create the same team-group conversation) is
	// reported as a ConflictError.
	CreateConversation(ctx context.Context, conv *model.Conversation) error

	// ListLeaderPrivates returns every team-leader-private conversation for
	// (edition, team) together with its participant user IDs.
	ListLeaderPrivates(ctx context.Context, editionID, teamID uuid.UUID) ([]ConversationParticipants, error)

	// GetParticipant returns the participant row for (conversation, user)
	// regardless of active/left state, or a NotFoundError.
	GetParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (*model.Participant, error)

	// CreateParticipant inserts a participant row. A duplicate
	// (conversation, user) pair is reported as a ConflictError.
	CreateParticipant(ctx context.Context, p *model.Participant) error

	// ReactivateParticipant clears the left timestamp on an existing row.
	// LastReadAt is left untouched.
	ReactivateParticipant(ctx context.Context, participantID uuid.UUID) error

	// ActiveParticipants returns the active participant rows of a
	// conversation.
	ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error)

	// AppendMessage inserts a message and bumps the conversation's
	// updated_at. The author must be an active participant.
	AppendMessage(ctx context.Context, msg *model.Message) error

	// MarkRead sets the caller's last-read timestamp on a conversation they
	// actively participate in.
	MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, at time.Time) error

	// ListConversationSummaries returns every conversation the user actively
	// participates in, scoped to the edition directly or through an artist
	// application, ordered by updated_at descending. Unread counts are
	// computed against the live message and last-read state.
	ListConversationSummaries(ctx context.Context, editionID uuid.UUID, userID string) ([]ConversationSummary, error)

	// Transact runs fn against a store bound to a single transaction. The
	// provisioning engine wraps each team's resolve-or-create sequence in
	// one Transact call so the store's uniqueness constraints serialize
	// concurrent provisioning of the same team.
	Transact(ctx context.Context, fn func(tx ConversationStore) error) error
}

// Loader creates a ConversationStore from config.
type Loader func(ctx context.Context) (ConversationStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
