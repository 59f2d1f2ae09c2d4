package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jbweber/homelab/perch/internal/api"
	"github.com/jbweber/homelab/perch/internal/cloud"
	"github.com/jbweber/homelab/perch/internal/config"
	"github.com/jbweber/homelab/perch/internal/lifecycle"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func main() {
	root := &cobra.Command{
		Use:   "perch",
		Short: "Self-service cloud VM portal",
	}
	root.AddCommand(serveCommand(), cleanupOrphansCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newService builds the lifecycle service from configuration: database,
// migrations, and the AWS provider clients.
func newService(ctx context.Context) (*lifecycle.Service, *config.Config, error) {
	cfg := config.NewConfig()
	if err := cfg.ValidateProvider(); err != nil {
		return nil, nil, err
	}

	db, err := cfg.InitializeDatabase()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	provider, err := cloud.NewAWSProvider(ctx, cloud.AWSOptions{
		Region:      cfg.Region,
		VPCID:       cfg.VPCID,
		SubnetID:    cfg.SubnetID,
		ImageID:     cfg.ImageID,
		ProjectName: cfg.ProjectName,
	})
	if err != nil {
		return nil, nil, err
	}

	return lifecycle.NewService(db, provider, cfg.ProjectName), cfg, nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the portal HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, err := newService(cmd.Context())
			if err != nil {
				return err
			}

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)

			api.NewAPI(svc).RegisterRoutes(r)

			// Health check endpoint
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				if _, err := fmt.Fprintln(w, "Perch portal service is running!"); err != nil {
					log.Printf("failed to write response: %v", err)
				}
			})

			log.Printf("Starting perch portal service on :%s...", cfg.Port)
			return http.ListenAndServe(":"+cfg.Port, r)
		},
	}
}

func cleanupOrphansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-orphans",
		Short: "Remove managed provider resources with no local record",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService(cmd.Context())
			if err != nil {
				return err
			}

			report, err := svc.SweepOrphans(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("sweep done: %d instances terminated, %d groups deleted (%d skipped), %d keypairs deleted",
				len(report.TerminatedInstances), len(report.DeletedGroups),
				len(report.SkippedGroups), len(report.DeletedKeyPairs))
			return nil
		},
	}
}
