// Package memory provides an in-process ConversationStore used by tests and
// single-node development runs. It enforces the same uniqueness rules as the
// postgres schema so race-handling code paths behave identically.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/convene/messenger-service/internal/model"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/google/uuid"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.ConversationStore, error) {
			return NewMemoryStore(), nil
		},
	})
}

const previewMaxLength = 160

// MemoryStore implements ConversationStore with in-process maps guarded by a
// single mutex. Transact serializes callers on that mutex; there is no
// rollback, so a failed transaction may leave earlier writes applied, same as
// a caller retrying idempotent operations would tolerate.
type MemoryStore struct {
	mu sync.Mutex
	txStore
}

type txStore struct {
	conversations map[uuid.UUID]*model.Conversation
	participants  map[uuid.UUID]*model.Participant
	messages      map[uuid.UUID][]*model.Message
	applications  map[uuid.UUID]*model.Application
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txStore: txStore{
			conversations: map[uuid.UUID]*model.Conversation{},
			participants:  map[uuid.UUID]*model.Participant{},
			messages:      map[uuid.UUID][]*model.Message{},
			applications:  map[uuid.UUID]*model.Application{},
		},
	}
}

func (s *MemoryStore) Transact(ctx context.Context, fn func(tx registrystore.ConversationStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.txStore)
}

func (s *MemoryStore) FindTeamGroup(ctx context.Context, editionID, teamID uuid.UUID) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.FindTeamGroup(ctx, editionID, teamID)
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.GetConversation(ctx, conversationID)
}

func (s *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.CreateConversation(ctx, conv)
}

func (s *MemoryStore) ListLeaderPrivates(ctx context.Context, editionID, teamID uuid.UUID) ([]registrystore.ConversationParticipants, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.ListLeaderPrivates(ctx, editionID, teamID)
}

func (s *MemoryStore) GetParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (*model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.GetParticipant(ctx, conversationID, userID)
}

func (s *MemoryStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.CreateParticipant(ctx, p)
}

func (s *MemoryStore) ReactivateParticipant(ctx context.Context, participantID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.ReactivateParticipant(ctx, participantID)
}

func (s *MemoryStore) ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.ActiveParticipants(ctx, conversationID)
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.AppendMessage(ctx, msg)
}

func (s *MemoryStore) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.MarkRead(ctx, conversationID, userID, at)
}

func (s *MemoryStore) ListConversationSummaries(ctx context.Context, editionID uuid.UUID, userID string) ([]registrystore.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txStore.ListConversationSummaries(ctx, editionID, userID)
}

// SeedApplication registers an application row so artist-application
// conversations can be scoped to their edition.
func (s *MemoryStore) SeedApplication(app model.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := app
	s.applications[app.ID] = &cp
}

// MarkLeft sets the left timestamp on a participant. Leaving is driven by the
// main application; this hook stands in for it.
func (s *MemoryStore) MarkLeft(conversationID uuid.UUID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.ConversationID == conversationID && p.UserID == userID {
			t := at
			p.LeftAt = &t
			return nil
		}
	}
	return &registrystore.NotFoundError{Resource: "participant", ID: userID}
}

// --- txStore: the unlocked implementation shared by MemoryStore and Transact ---

func (t *txStore) Transact(ctx context.Context, fn func(tx registrystore.ConversationStore) error) error {
	// Already inside the store lock.
	return fn(t)
}

func (t *txStore) FindTeamGroup(ctx context.Context, editionID, teamID uuid.UUID) (*model.Conversation, error) {
	for _, c := range t.conversations {
		if c.Type == model.TypeTeamGroup && c.EditionID == editionID && c.TeamID != nil && *c.TeamID == teamID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, &registrystore.NotFoundError{Resource: "conversation", ID: teamID.String()}
}

func (t *txStore) GetConversation(ctx context.Context, conversationID uuid.UUID) (*model.Conversation, error) {
	c, ok := t.conversations[conversationID]
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	cp := *c
	return &cp, nil
}

func (t *txStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if conv.Type.TeamScoped() && conv.TeamID == nil {
		return &registrystore.ValidationError{Field: "teamId", Message: "required for team-scoped conversations"}
	}
	if _, ok := t.conversations[conv.ID]; ok {
		return &registrystore.ConflictError{Message: "conversation already exists"}
	}
	if conv.Type == model.TypeTeamGroup {
		for _, c := range t.conversations {
			if c.Type == model.TypeTeamGroup && c.EditionID == conv.EditionID && c.TeamID != nil && *c.TeamID == *conv.TeamID {
				return &registrystore.ConflictError{Message: "conversation already exists"}
			}
		}
	}
	cp := *conv
	t.conversations[conv.ID] = &cp
	return nil
}

func (t *txStore) ListLeaderPrivates(ctx context.Context, editionID, teamID uuid.UUID) ([]registrystore.ConversationParticipants, error) {
	var out []registrystore.ConversationParticipants
	for _, c := range t.conversations {
		if c.Type != model.TypeTeamLeaderPrivate || c.EditionID != editionID || c.TeamID == nil || *c.TeamID != teamID {
			continue
		}
		cp := registrystore.ConversationParticipants{Conversation: *c}
		for _, p := range t.participants {
			if p.ConversationID != c.ID {
				continue
			}
			cp.AllUserIDs = append(cp.AllUserIDs, p.UserID)
			if p.Active() {
				cp.ActiveUserIDs = append(cp.ActiveUserIDs, p.UserID)
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Conversation.CreatedAt.Before(out[j].Conversation.CreatedAt)
	})
	return out, nil
}

func (t *txStore) GetParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (*model.Participant, error) {
	for _, p := range t.participants {
		if p.ConversationID == conversationID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, &registrystore.NotFoundError{Resource: "participant", ID: userID}
}

func (t *txStore) CreateParticipant(ctx context.Context, p *model.Participant) error {
	for _, existing := range t.participants {
		if existing.ConversationID == p.ConversationID && existing.UserID == p.UserID {
			return &registrystore.ConflictError{Message: "participant already exists"}
		}
	}
	if _, ok := t.conversations[p.ConversationID]; !ok {
		return &registrystore.NotFoundError{Resource: "conversation", ID: p.ConversationID.String()}
	}
	cp := *p
	t.participants[p.ID] = &cp
	return nil
}

func (t *txStore) ReactivateParticipant(ctx context.Context, participantID uuid.UUID) error {
	p, ok := t.participants[participantID]
	if !ok {
		return &registrystore.NotFoundError{Resource: "participant", ID: participantID.String()}
	}
	p.LeftAt = nil
	return nil
}

func (t *txStore) ActiveParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error) {
	var out []model.Participant
	for _, p := range t.participants {
		if p.ConversationID == conversationID && p.Active() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (t *txStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	c, ok := t.conversations[msg.ConversationID]
	if !ok {
		return &registrystore.NotFoundError{Resource: "conversation", ID: msg.ConversationID.String()}
	}
	author := false
	for _, p := range t.participants {
		if p.ConversationID == msg.ConversationID && p.UserID == msg.AuthorUserID && p.Active() {
			author = true
			break
		}
	}
	if !author {
		return &registrystore.ForbiddenError{}
	}
	cp := *msg
	t.messages[msg.ConversationID] = append(t.messages[msg.ConversationID], &cp)
	c.UpdatedAt = msg.CreatedAt
	return nil
}

func (t *txStore) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, at time.Time) error {
	for _, p := range t.participants {
		if p.ConversationID == conversationID && p.UserID == userID && p.Active() {
			at := at
			p.LastReadAt = &at
			return nil
		}
	}
	return &registrystore.NotFoundError{Resource: "participant", ID: userID}
}

func (t *txStore) ListConversationSummaries(ctx context.Context, editionID uuid.UUID, userID string) ([]registrystore.ConversationSummary, error) {
	var out []registrystore.ConversationSummary
	for _, c := range t.conversations {
		if !t.inEdition(c, editionID) {
			continue
		}
		var self *model.Participant
		for _, p := range t.participants {
			if p.ConversationID == c.ID && p.UserID == userID && p.Active() {
				self = p
				break
			}
		}
		if self == nil {
			continue
		}

		sum := registrystore.ConversationSummary{Conversation: *c}
		active, _ := t.ActiveParticipants(ctx, c.ID)
		for _, p := range active {
			sum.Participants = append(sum.Participants, registrystore.ParticipantInfo{
				UserID:     p.UserID,
				JoinedAt:   p.JoinedAt,
				LastReadAt: p.LastReadAt,
			})
		}

		lastRead := time.Time{}
		if self.LastReadAt != nil {
			lastRead = *self.LastReadAt
		}
		var last *model.Message
		for _, m := range t.messages[c.ID] {
			if m.DeletedAt != nil {
				continue
			}
			if last == nil || m.CreatedAt.After(last.CreatedAt) {
				last = m
			}
			if m.AuthorUserID != userID && m.CreatedAt.After(lastRead) {
				sum.UnreadCount++
			}
		}
		if last != nil {
			sum.LastMessage = &registrystore.MessagePreview{
				ID:           last.ID,
				AuthorUserID: last.AuthorUserID,
				Preview:      truncate(last.Content, previewMaxLength),
				CreatedAt:    last.CreatedAt,
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Conversation.UpdatedAt.After(out[j].Conversation.UpdatedAt)
	})
	return out, nil
}

func (t *txStore) inEdition(c *model.Conversation, editionID uuid.UUID) bool {
	if c.EditionID == editionID {
		return true
	}
	if c.ApplicationID == nil {
		return false
	}
	app, ok := t.applications[*c.ApplicationID]
	return ok && app.EditionID == editionID
}

func truncate(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max])
}
