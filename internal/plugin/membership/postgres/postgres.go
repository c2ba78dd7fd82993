// Package postgres reads the main application's membership tables
// (applications, team_assignments, edition_organizers). This service never
// writes them.
package postgres

import (
	"context"
	"fmt"

	"github.com/convene/messenger-service/internal/config"
	"github.com/convene/messenger-service/internal/model"
	"github.com/convene/messenger-service/internal/registry/membership"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	membership.Register(membership.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (membership.Source, error) {
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
			return &PostgresSource{db: db}, nil
		},
	})
}

// PostgresSource implements membership.Source over the shared database.
type PostgresSource struct {
	db *gorm.DB
}

// NewSource wraps an existing gorm handle. Used by tests that share one
// database with the conversation store.
func NewSource(db *gorm.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

type assignmentRow struct {
	EditionID     uuid.UUID
	TeamID        uuid.UUID
	ApplicationID uuid.UUID
	UserID        string
	IsLeader      bool
}

func (s *PostgresSource) AcceptedAssignments(ctx context.Context, scope membership.Scope) ([]membership.Assignment, error) {
	q := s.db.WithContext(ctx).
		Table("team_assignments ta").
		Select("a.edition_id, ta.team_id, ta.application_id, a.user_id, ta.is_leader").
		Joins("JOIN applications a ON a.id = ta.application_id").
		Where("a.status = ?", model.StatusAccepted).
		Where("a.edition_id = ?", scope.EditionID)
	if scope.TeamID != nil {
		q = q.Where("ta.team_id = ?", *scope.TeamID)
	}
	if scope.UserID != nil {
		q = q.Where("a.user_id = ?", *scope.UserID)
	}

	var rows []assignmentRow
	if err := q.Order("ta.team_id, a.user_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]membership.Assignment, len(rows))
	for i, r := range rows {
		out[i] = membership.Assignment{
			EditionID:     r.EditionID,
			TeamID:        r.TeamID,
			ApplicationID: r.ApplicationID,
			UserID:        r.UserID,
			IsLeader:      r.IsLeader,
		}
	}
	return out, nil
}

func (s *PostgresSource) IsEditionOrganizer(ctx context.Context, editionID uuid.UUID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.EditionOrganizer{}).
		Where("edition_id = ? AND user_id = ?", editionID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *PostgresSource) IsConventionOrganizer(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.EditionOrganizer{}).
		Where("user_id = ? AND convention_wide", userID).
		Count(&count).Error
	return count > 0, err
}

func (s *PostgresSource) IsArtist(ctx context.Context, editionID uuid.UUID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Application{}).
		Where("edition_id = ? AND user_id = ? AND status = ? AND is_artist", editionID, userID, model.StatusAccepted).
		Count(&count).Error
	return count > 0, err
}

var _ membership.Source = (*PostgresSource)(nil)
