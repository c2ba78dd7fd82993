// Package membership defines the read-only interface to the authoritative
// team assignment data owned by the main application. The provisioning
// engine never decides who is on a team; it only reads this source.
package membership

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Assignment is one user's accepted assignment to one team within one
// edition-scoped application.
type Assignment struct {
	EditionID     uuid.UUID
	TeamID        uuid.UUID
	ApplicationID uuid.UUID
	UserID        string
	IsLeader      bool
}

// Scope filters assignment loads. EditionID is required; TeamID and UserID
// narrow the result when set.
type Scope struct {
	EditionID uuid.UUID
	TeamID    *uuid.UUID
	UserID    *string
}

// Source reads the authoritative membership data. Leader sets are always
// recomputed from it; the engine never caches them.
type Source interface {
	// AcceptedAssignments returns the team assignments of accepted
	// applications matching the scope.
	AcceptedAssignments(ctx context.Context, scope Scope) ([]Assignment, error)

	// IsEditionOrganizer reports whether the user organizes the edition.
	IsEditionOrganizer(ctx context.Context, editionID uuid.UUID, userID string) (bool, error)

	// IsConventionOrganizer reports whether the user organizes the whole
	// convention (all editions).
	IsConventionOrganizer(ctx context.Context, userID string) (bool, error)

	// IsArtist reports whether the user has an accepted artist application
	// in the edition.
	IsArtist(ctx context.Context, editionID uuid.UUID, userID string) (bool, error)
}

// Loader creates a Source from config.
type Loader func(ctx context.Context) (Source, error)

// Plugin represents a membership source plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a membership source plugin. Called from init() in plugin
// packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered membership plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named membership plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown membership source %q; valid: %v", name, Names())
}
