// Package provision implements the offline bulk-provisioning command used for
// one-off backfills and migrations.
package provision

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/convene/messenger-service/internal/config"
	enginepkg "github.com/convene/messenger-service/internal/provision"
	registrymembership "github.com/convene/messenger-service/internal/registry/membership"
	registrymigrate "github.com/convene/messenger-service/internal/registry/migrate"
	registrystore "github.com/convene/messenger-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	_ "github.com/convene/messenger-service/internal/plugin/membership/memory"
	_ "github.com/convene/messenger-service/internal/plugin/membership/postgres"
	_ "github.com/convene/messenger-service/internal/plugin/store/memory"
	_ "github.com/convene/messenger-service/internal/plugin/store/postgres"
)

// Command returns the provision sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "provision",
		Usage: "Bulk-provision conversations from the current team assignments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("MESSENGER_SERVICE_DB_URL"),
				Destination: &cfg.DBURL,
				Usage:       "Database connection URL",
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("MESSENGER_SERVICE_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Backend store (postgres|memory)",
			},
			&cli.StringFlag{
				Name:        "membership-kind",
				Sources:     cli.EnvVars("MESSENGER_SERVICE_MEMBERSHIP_KIND"),
				Destination: &cfg.MembershipType,
				Value:       cfg.MembershipType,
				Usage:       "Membership source (postgres|memory)",
			},
			&cli.StringFlag{
				Name:     "edition-id",
				Usage:    "Edition to provision",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "team-id",
				Usage: "Restrict provisioning to one team",
			},
			&cli.StringFlag{
				Name:  "user-id",
				Usage: "Restrict provisioning to teams this user is assigned to",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			editionID, err := uuid.Parse(cmd.String("edition-id"))
			if err != nil {
				return fmt.Errorf("invalid --edition-id: %w", err)
			}
			scope := registrymembership.Scope{EditionID: editionID}
			if v := cmd.String("team-id"); v != "" {
				teamID, err := uuid.Parse(v)
				if err != nil {
					return fmt.Errorf("invalid --team-id: %w", err)
				}
				scope.TeamID = &teamID
			}
			if v := cmd.String("user-id"); v != "" {
				userID := v
				scope.UserID = &userID
			}

			ctx = config.WithContext(ctx, &cfg)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}

			storeLoader, err := registrystore.Select(cfg.DatastoreType)
			if err != nil {
				return err
			}
			store, err := storeLoader(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			membershipLoader, err := registrymembership.Select(cfg.MembershipType)
			if err != nil {
				return err
			}
			source, err := membershipLoader(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize membership source: %w", err)
			}

			engine := enginepkg.New(store, source)
			res, err := engine.Provision(ctx, scope)
			log.Info("Provisioning finished", "processed", res.TeamsProcessed, "failed", res.TeamsFailed)
			return err
		},
	}
}
