package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liteboard/liteboard/internal/issue"
	"github.com/liteboard/liteboard/internal/store"
	"github.com/liteboard/liteboard/internal/sync"
)

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Initialize the seed template space",
	Long: `Seed the template space with the embedded sample dataset.

Every new space is bootstrapped by copying the template's entries, so this
normally happens lazily on the first pull; run it ahead of time to control
when the work happens, or with --count to add generated issues for larger
datasets. Seeding is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[seed] ", log.LstdFlags)

		db, err := store.Open(viper.GetString("db.path"))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		if err := db.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		reconciler := sync.NewReconciler(db, &sync.Config{
			TemplateSpace: viper.GetString("seed.templateSpace"),
			Logger:        logger,
		})
		templateSpace := reconciler.TemplateSpace()

		if err := reconciler.Initialize(ctx, templateSpace); err != nil {
			return fmt.Errorf("failed to seed template space: %w", err)
		}

		if seedCount > 0 {
			generated, err := issue.GenerateEntries(seedCount)
			if err != nil {
				return fmt.Errorf("failed to generate issues: %w", err)
			}

			err = db.Transact(ctx, func(tx *store.Tx) error {
				version, ok, err := tx.GetCookie(ctx, templateSpace)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("template space %s missing after init", templateSpace)
				}

				wt := sync.NewWriteTx(tx, templateSpace, version+1)
				for _, e := range generated {
					wt.Put(e.Key, e.Value)
				}
				if err := wt.Flush(ctx); err != nil {
					return err
				}
				return tx.SetCookie(ctx, templateSpace, version+1)
			})
			if err != nil {
				return fmt.Errorf("failed to write generated issues: %w", err)
			}
			logger.Printf("Added %d generated issues to template space %s", seedCount, templateSpace)
		}

		var entryCount int
		err = db.Transact(ctx, func(tx *store.Tx) error {
			entryCount, err = tx.EntryCount(ctx, templateSpace)
			return err
		})
		if err != nil {
			return err
		}

		fmt.Printf("Template space %q ready with %d entries\n", templateSpace, entryCount)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 0, "number of generated issues to add on top of the sample dataset")
}
