// Package provision derives which conversations should exist from the
// authoritative team assignment data and reconciles stored membership to
// match. It is the sole writer of conversation and participant rows.
package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/convene/messenger-service/internal/model"
	"github.com/convene/messenger-service/internal/registry/membership"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/convene/messenger-service/internal/security"
	"github.com/google/uuid"
)

// Engine provisions conversations from team assignments.
type Engine struct {
	store  registrystore.ConversationStore
	source membership.Source
}

// New creates a provisioning engine.
func New(store registrystore.ConversationStore, source membership.Source) *Engine {
	return &Engine{store: store, source: source}
}

// Result summarizes one bulk provisioning run.
type Result struct {
	TeamsProcessed int `json:"teamsProcessed"`
	TeamsFailed    int `json:"teamsFailed"`
}

// Provision brings the conversation graph up to date with the current team
// assignments matching the scope. A user-scoped run narrows which teams are
// selected, not which members get reconciled: every selected team is
// provisioned from its full assignment list. Each team is processed in its
// own transaction; a failure on one team does not stop the others. The
// returned error joins the per-team failures, with Result reporting the
// split.
func (e *Engine) Provision(ctx context.Context, scope membership.Scope) (Result, error) {
	var res Result

	assignments, err := e.source.AcceptedAssignments(ctx, scope)
	if err != nil {
		return res, fmt.Errorf("loading team assignments: %w", err)
	}

	byTeam := groupByTeam(assignments)
	teamIDs := make([]uuid.UUID, 0, len(byTeam))
	for id := range byTeam {
		teamIDs = append(teamIDs, id)
	}
	sort.Slice(teamIDs, func(i, j int) bool { return teamIDs[i].String() < teamIDs[j].String() })

	if security.ProvisionRunsTotal != nil {
		security.ProvisionRunsTotal.Inc()
	}
	log.Info("Provisioning: starting", "editionId", scope.EditionID, "teams", len(teamIDs))

	var teamErrs []error
	for _, teamID := range teamIDs {
		if err := ctx.Err(); err != nil {
			teamErrs = append(teamErrs, err)
			break
		}
		teamAssignments := byTeam[teamID]
		// A user-filtered load only discovers the user's teams. Provisioning
		// itself always works from the team's full assignment list, because
		// one member's row says nothing about the leader set or the rest of
		// the membership.
		if scope.UserID != nil {
			tid := teamID
			teamAssignments, err = e.source.AcceptedAssignments(ctx, membership.Scope{
				EditionID: scope.EditionID,
				TeamID:    &tid,
			})
			if err != nil {
				log.Error("Provisioning: team failed", "editionId", scope.EditionID, "teamId", teamID, "err", err)
				if security.ProvisionTeamFailuresTotal != nil {
					security.ProvisionTeamFailuresTotal.Inc()
				}
				res.TeamsFailed++
				teamErrs = append(teamErrs, fmt.Errorf("team %s: %w", teamID, err))
				continue
			}
		}
		if err := e.provisionTeam(ctx, scope.EditionID, teamID, teamAssignments); err != nil {
			log.Error("Provisioning: team failed", "editionId", scope.EditionID, "teamId", teamID, "err", err)
			if security.ProvisionTeamFailuresTotal != nil {
				security.ProvisionTeamFailuresTotal.Inc()
			}
			res.TeamsFailed++
			teamErrs = append(teamErrs, fmt.Errorf("team %s: %w", teamID, err))
			continue
		}
		res.TeamsProcessed++
	}

	log.Info("Provisioning: completed", "editionId", scope.EditionID,
		"processed", res.TeamsProcessed, "failed", res.TeamsFailed)
	return res, errors.Join(teamErrs...)
}

// EnsureConversationsForUser provisions the conversations one team member
// needs. It reloads the team's full assignment list rather than just the
// user's, because a newly added or promoted user changes which leader-private
// conversations every other member belongs to. Errors propagate so the caller
// fails visibly instead of silently leaving conversations unprovisioned.
func (e *Engine) EnsureConversationsForUser(ctx context.Context, editionID, teamID uuid.UUID, userID string) error {
	assignments, err := e.source.AcceptedAssignments(ctx, membership.Scope{
		EditionID: editionID,
		TeamID:    &teamID,
	})
	if err != nil {
		return fmt.Errorf("loading team assignments: %w", err)
	}
	if len(assignments) == 0 {
		return &registrystore.NotFoundError{Resource: "team", ID: teamID.String()}
	}
	found := false
	for _, a := range assignments {
		if a.UserID == userID {
			found = true
			break
		}
	}
	if !found {
		return &registrystore.NotFoundError{Resource: "team assignment", ID: userID}
	}
	return e.provisionTeam(ctx, editionID, teamID, assignments)
}

// provisionTeam runs the whole resolve-or-create sequence for one team inside
// a single transaction. The group conversation is reconciled before any
// leader-private conversation, and both use the same assignment snapshot.
func (e *Engine) provisionTeam(ctx context.Context, editionID, teamID uuid.UUID, assignments []membership.Assignment) error {
	members, leaders := splitAssignments(assignments)

	return e.store.Transact(ctx, func(tx registrystore.ConversationStore) error {
		group, err := resolveTeamGroup(ctx, tx, editionID, teamID)
		if err != nil {
			return err
		}
		for _, userID := range members {
			if err := ensureActiveParticipant(ctx, tx, group.ID, userID); err != nil {
				return err
			}
		}

		// No leaders means no leader-private conversations at all.
		if len(leaders) == 0 {
			return nil
		}

		for _, userID := range members {
			if contains(leaders, userID) {
				continue
			}
			conv, err := resolveLeaderPrivate(ctx, tx, editionID, teamID, userID, leaders)
			if err != nil {
				return err
			}
			for _, expected := range ExpectedParticipants(userID, leaders) {
				if err := ensureActiveParticipant(ctx, tx, conv.ID, expected); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ResolveTeamGroup finds or creates the single team-group conversation for
// (edition, team). Safe to call concurrently: losers of the create race
// re-read the winner's row.
func (e *Engine) ResolveTeamGroup(ctx context.Context, editionID, teamID uuid.UUID) (*model.Conversation, error) {
	var conv *model.Conversation
	err := e.store.Transact(ctx, func(tx registrystore.ConversationStore) error {
		var err error
		conv, err = resolveTeamGroup(ctx, tx, editionID, teamID)
		return err
	})
	return conv, err
}

// ResolveLeaderPrivate finds or creates the leader-private conversation whose
// participant set is exactly {member} union leaders, and makes every expected
// participant active in it.
func (e *Engine) ResolveLeaderPrivate(ctx context.Context, editionID, teamID uuid.UUID, memberUserID string, leaderUserIDs []string) (*model.Conversation, error) {
	if len(leaderUserIDs) == 0 {
		return nil, &registrystore.ValidationError{Field: "leaderUserIds", Message: "must not be empty"}
	}
	var conv *model.Conversation
	err := e.store.Transact(ctx, func(tx registrystore.ConversationStore) error {
		var err error
		conv, err = resolveLeaderPrivate(ctx, tx, editionID, teamID, memberUserID, leaderUserIDs)
		if err != nil {
			return err
		}
		for _, expected := range ExpectedParticipants(memberUserID, leaderUserIDs) {
			if err := ensureActiveParticipant(ctx, tx, conv.ID, expected); err != nil {
				return err
			}
		}
		return nil
	})
	return conv, err
}

// EnsureActiveParticipant makes userID an active participant of the
// conversation. Idempotent.
func (e *Engine) EnsureActiveParticipant(ctx context.Context, conversationID uuid.UUID, userID string) error {
	return e.store.Transact(ctx, func(tx registrystore.ConversationStore) error {
		return ensureActiveParticipant(ctx, tx, conversationID, userID)
	})
}

func resolveTeamGroup(ctx context.Context, s registrystore.ConversationStore, editionID, teamID uuid.UUID) (*model.Conversation, error) {
	conv, err := s.FindTeamGroup(ctx, editionID, teamID)
	if err == nil {
		return conv, nil
	}
	var notFound *registrystore.NotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	tid := teamID
	conv = &model.Conversation{
		ID:        uuid.New(),
		EditionID: editionID,
		TeamID:    &tid,
		Type:      model.TypeTeamGroup,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	err = s.CreateConversation(ctx, conv)
	if err == nil {
		if security.ConversationsCreatedTotal != nil {
			security.ConversationsCreatedTotal.WithLabelValues(string(model.TypeTeamGroup)).Inc()
		}
		return conv, nil
	}
	var conflict *registrystore.ConflictError
	if !errors.As(err, &conflict) {
		return nil, err
	}
	// Another writer created the group conversation first.
	return s.FindTeamGroup(ctx, editionID, teamID)
}

// resolveLeaderPrivate matches by set identity of the active participants.
// A conversation whose active set shrank (a member left) but whose full
// participant set still equals the expected set is reused; the caller
// reactivates the left rows. Only when neither pass matches is a new
// conversation created.
func resolveLeaderPrivate(ctx context.Context, s registrystore.ConversationStore, editionID, teamID uuid.UUID, memberUserID string, leaderUserIDs []string) (*model.Conversation, error) {
	expected := ExpectedParticipants(memberUserID, leaderUserIDs)

	convs, err := s.ListLeaderPrivates(ctx, editionID, teamID)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if sameSet(convs[i].ActiveUserIDs, expected) {
			return &convs[i].Conversation, nil
		}
	}
	for i := range convs {
		if sameSet(convs[i].AllUserIDs, expected) {
			return &convs[i].Conversation, nil
		}
	}

	tid := teamID
	conv := &model.Conversation{
		ID:        uuid.New(),
		EditionID: editionID,
		TeamID:    &tid,
		Type:      model.TypeTeamLeaderPrivate,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	if security.ConversationsCreatedTotal != nil {
		security.ConversationsCreatedTotal.WithLabelValues(string(model.TypeTeamLeaderPrivate)).Inc()
	}
	return conv, nil
}

// groupByTeam buckets assignments by team ID.
func groupByTeam(assignments []membership.Assignment) map[uuid.UUID][]membership.Assignment {
	byTeam := make(map[uuid.UUID][]membership.Assignment)
	for _, a := range assignments {
		byTeam[a.TeamID] = append(byTeam[a.TeamID], a)
	}
	return byTeam
}

// splitAssignments returns the deduplicated member user IDs and the leader
// subset, both sorted for deterministic processing.
func splitAssignments(assignments []membership.Assignment) (members, leaders []string) {
	leaderSet := make(map[string]bool)
	seen := make(map[string]struct{})
	for _, a := range assignments {
		if _, ok := seen[a.UserID]; !ok {
			seen[a.UserID] = struct{}{}
			members = append(members, a.UserID)
		}
		if a.IsLeader {
			leaderSet[a.UserID] = true
		}
	}
	for id := range leaderSet {
		leaders = append(leaders, id)
	}
	sort.Strings(members)
	sort.Strings(leaders)
	return members, leaders
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
