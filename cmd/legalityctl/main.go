package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildpass/buildpass-backend/internal/legality/cache"
	"github.com/buildpass/buildpass-backend/internal/legality/catalog"
	"github.com/buildpass/buildpass-backend/internal/legality/domain"
	"github.com/buildpass/buildpass-backend/internal/legality/engine"
	"github.com/buildpass/buildpass-backend/internal/legality/events"
	"github.com/buildpass/buildpass-backend/internal/legality/repository"
	"github.com/buildpass/buildpass-backend/internal/legality/service"
	"github.com/buildpass/buildpass-backend/pkg/config"
	"github.com/buildpass/buildpass-backend/pkg/database"
	"github.com/buildpass/buildpass-backend/pkg/i18n"
	"github.com/buildpass/buildpass-backend/pkg/logger"
	"github.com/buildpass/buildpass-backend/pkg/messaging"
)

const serviceName = "legalityctl"

func main() {
	rootCmd := &cobra.Command{
		Use:   "legalityctl",
		Short: "Operate the BuildPass legality engine",
		Long: `legalityctl runs legality checks against the reference catalog,
imports catalog files into the reference table and recomputes stored
modification snapshots.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(recomputeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkCmd() *cobra.Command {
	var (
		req       service.CheckRequest
		params    map[string]string
		locale    string
		catalogFn string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Assess a part against the static catalog",
		Long: `Assess a part against the static catalog without a database and print
the check response as JSON.

Example:
  legalityctl check --brand KW --part "V3 Coilovers" --param clearanceLoaded=90
  legalityctl check --brand Remus --part Endschalldämpfer --category exhaust --state BY`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := catalog.Load(catalog.Paths{Catalog: catalogFn})
			if err != nil {
				return fmt.Errorf("load reference data: %w", err)
			}

			raw := make(map[string]any, len(params))
			for k, v := range params {
				raw[k] = v
			}
			req.Parameters = domain.ParseUserParameters(raw)

			eng := engine.New(data, nil, engine.Options{}, nil)
			checks := service.NewCheckService(eng, nil, nil, nil, service.CheckOptions{}, nil)

			ctx := i18n.WithLocale(cmd.Context(), i18n.Normalize(locale))
			resp, err := checks.Check(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	cmd.Flags().StringVar(&req.Brand, "brand", "", "Part brand (required)")
	cmd.Flags().StringVar(&req.PartName, "part", "", "Part name (required)")
	cmd.Flags().StringVar(&req.Category, "category", "", "Part category")
	cmd.Flags().StringVar(&req.ApprovalNumber, "approval", "", "Approval number hint, e.g. KBA 43234")
	cmd.Flags().StringVar(&req.Make, "make", "", "Vehicle make")
	cmd.Flags().StringVar(&req.Model, "model", "", "Vehicle model")
	cmd.Flags().IntVar(&req.Year, "year", 0, "Vehicle model year")
	cmd.Flags().StringVar(&req.StateID, "state", "", "German federal state, code or name")
	cmd.Flags().StringVar(&req.TuvStatus, "tuv", "", "Declared TÜV status")
	cmd.Flags().StringSliceVar(&req.Evidence, "evidence", nil, "Evidence types held, e.g. abe,eintragung")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Measured parameters, e.g. et=35,clearanceLoaded=90")
	cmd.Flags().StringVar(&locale, "locale", i18n.DefaultLocale, "Output language (de or en)")
	cmd.Flags().StringVar(&catalogFn, "catalog", "", "Catalog file instead of the embedded one")
	_ = cmd.MarkFlagRequired("brand")
	_ = cmd.MarkFlagRequired("part")

	return cmd
}

func importCmd() *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "import <catalog.json>",
		Short: "Upsert a catalog file into the reference table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cat, err := catalog.ParseCatalog(f)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			env, err := connect(publish)
			if err != nil {
				return err
			}
			defer env.close()

			result, err := repository.NewReferenceRepository(env.db).UpsertBatch(cmd.Context(), cat.Entries())
			if err != nil {
				return fmt.Errorf("import catalog: %w", err)
			}
			if env.publisher != nil {
				env.publisher.PublishEntriesImported(cmd.Context(), cat.Version(), result.Inserted+result.Updated)
			}
			if err := invalidateChecks(cmd.Context(), env.cfg); err != nil {
				fmt.Fprintf(os.Stderr, "warning: cached checks not invalidated: %v\n", err)
			}

			fmt.Printf("Imported catalog %s: %d inserted, %d updated\n", cat.Version(), result.Inserted, result.Updated)
			return nil
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", true, "Announce the import on the legality exchange")
	return cmd
}

func recomputeCmd() *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "recompute <modification-id>...",
		Short: "Recompute stored snapshots of modifications",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := connect(publish)
			if err != nil {
				return err
			}
			defer env.close()

			data, err := catalog.Load(catalog.Paths{
				Catalog:       env.cfg.Legality.CatalogPath,
				RegionalRules: env.cfg.Legality.RegionalRulesPath,
				Citations:     env.cfg.Legality.CitationsPath,
			})
			if err != nil {
				return fmt.Errorf("load reference data: %w", err)
			}

			eng := engine.New(data, repository.NewReferenceRepository(env.db), engine.Options{
				SuggestionLimit: env.cfg.Legality.SuggestionLimit,
				DBMatchLimit:    env.cfg.Legality.DBMatchLimit,
			}, env.log)
			var snapshotEvents service.SnapshotEvents
			if env.publisher != nil {
				snapshotEvents = env.publisher
			}
			writer := service.NewSnapshotWriter(eng,
				repository.NewModificationRepository(env.db),
				repository.NewListingRepository(env.db),
				snapshotEvents, nil, env.log)

			var failed []error
			for _, id := range args {
				result, err := writer.Recompute(cmd.Context(), id)
				var propagation *service.PropagationError
				if err != nil && !errors.As(err, &propagation) {
					failed = append(failed, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Printf("%s\t%s\tchanged=%t\tlistings=%d/%d\n",
					id, result.Snapshot.Status, result.Changed, result.Updated, result.Listings)
				if propagation != nil {
					fmt.Fprintf(os.Stderr, "warning: %v\n", propagation)
				}
			}
			return errors.Join(failed...)
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", true, "Publish snapshot updates on the legality exchange")
	return cmd
}

type environment struct {
	cfg       *config.Config
	db        *database.DB
	rmq       *messaging.RabbitMQ
	publisher *events.LegalityEventPublisher
	log       *logger.Logger
}

// connect opens the database and, when publish is set, the broker
func connect(publish bool) (*environment, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	log := logger.New(serviceName, cfg.Server.Environment)

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repository.Migrate(db.DB.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	env := &environment{cfg: cfg, db: db, log: log}
	if !publish {
		return env, nil
	}

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	publisher, err := events.NewLegalityEventPublisher(rmq, log)
	if err != nil {
		rmq.Close()
		db.Close()
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	env.rmq = rmq
	env.publisher = publisher
	return env, nil
}

func (e *environment) close() {
	if e.rmq != nil {
		e.rmq.Close()
	}
	e.db.Close()
}

// invalidateChecks advances the reference generation so cached check responses
// built on the previous overlay are not served again
func invalidateChecks(ctx context.Context, cfg *config.Config) error {
	client, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil || client == nil {
		return err
	}
	defer client.Close()

	_, err = cache.NewCheckCache(client.Client, cfg.Redis.CheckTTL).Invalidate(ctx)
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
