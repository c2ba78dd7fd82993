// Package memory provides a seedable in-process membership source for tests
// and development runs.
package memory

import (
	"context"
	"sync"

	"github.com/convene/messenger-service/internal/registry/membership"
	"github.com/google/uuid"
)

func init() {
	membership.Register(membership.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (membership.Source, error) {
			return NewSource(), nil
		},
	})
}

// Source implements membership.Source from seeded data.
type Source struct {
	mu          sync.Mutex
	assignments []membership.Assignment
	organizers  map[string]map[uuid.UUID]bool // userID → editions
	convention  map[string]bool
	artists     map[uuid.UUID]map[string]bool // editionID → users
}

// NewSource creates an empty source.
func NewSource() *Source {
	return &Source{
		organizers: map[string]map[uuid.UUID]bool{},
		convention: map[string]bool{},
		artists:    map[uuid.UUID]map[string]bool{},
	}
}

// AddAssignment seeds one accepted team assignment.
func (s *Source) AddAssignment(a membership.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ApplicationID == uuid.Nil {
		a.ApplicationID = uuid.New()
	}
	s.assignments = append(s.assignments, a)
}

// RemoveAssignment drops the user's assignment to the team.
func (s *Source) RemoveAssignment(teamID uuid.UUID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.assignments[:0]
	for _, a := range s.assignments {
		if a.TeamID == teamID && a.UserID == userID {
			continue
		}
		kept = append(kept, a)
	}
	s.assignments = kept
}

// SetLeader flips the leader flag on the user's assignment to the team.
func (s *Source) SetLeader(teamID uuid.UUID, userID string, isLeader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assignments {
		if s.assignments[i].TeamID == teamID && s.assignments[i].UserID == userID {
			s.assignments[i].IsLeader = isLeader
		}
	}
}

// AddOrganizer seeds an edition organizer.
func (s *Source) AddOrganizer(editionID uuid.UUID, userID string, conventionWide bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.organizers[userID] == nil {
		s.organizers[userID] = map[uuid.UUID]bool{}
	}
	s.organizers[userID][editionID] = true
	if conventionWide {
		s.convention[userID] = true
	}
}

// AddArtist seeds an accepted artist application.
func (s *Source) AddArtist(editionID uuid.UUID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artists[editionID] == nil {
		s.artists[editionID] = map[string]bool{}
	}
	s.artists[editionID][userID] = true
}

func (s *Source) AcceptedAssignments(ctx context.Context, scope membership.Scope) ([]membership.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []membership.Assignment
	for _, a := range s.assignments {
		if a.EditionID != scope.EditionID {
			continue
		}
		if scope.TeamID != nil && a.TeamID != *scope.TeamID {
			continue
		}
		if scope.UserID != nil && a.UserID != *scope.UserID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Source) IsEditionOrganizer(ctx context.Context, editionID uuid.UUID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.organizers[userID][editionID], nil
}

func (s *Source) IsConventionOrganizer(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convention[userID], nil
}

func (s *Source) IsArtist(ctx context.Context, editionID uuid.UUID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artists[editionID][userID], nil
}

var _ membership.Source = (*Source)(nil)
