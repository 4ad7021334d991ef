package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentuity/readaside/seeder"
	"github.com/agentuity/readaside/sys"
	"github.com/agentuity/readaside/tui"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert random rows into CacheableTable",
	Long: `Insert random rows into CacheableTable with concurrent workers.

Only the store settings are used, but the full configuration is validated;
pass --cache-backend memory when no cache is configured.`,
	Run: func(cmd *cobra.Command, args []string) {
		workers, _ := cmd.Flags().GetInt("workers")
		rows, _ := cmd.Flags().GetInt("rows")
		createSchema, _ := cmd.Flags().GetBool("create-schema")
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp(cmd)
		if err != nil {
			tui.ShowError("%s", err)
			os.Exit(1)
		}
		defer a.Close()
		if !yes {
			ok, err := tui.Ask(fmt.Sprintf("Insert %d rows into %s?", workers*rows, a.cfg.Store.Endpoint), false)
			if err != nil || !ok {
				tui.ShowWarning("cancelled")
				return
			}
		}
		if err := a.withStore(); err != nil {
			a.fail(err)
			return
		}

		signals := sys.CreateShutdownChannel()
		ctx, cancel := context.WithCancel(a.ctx)
		defer cancel()
		go func() {
			select {
			case <-signals:
				cancel()
			case <-ctx.Done():
			}
		}()

		var summary seeder.Summary
		title := fmt.Sprintf("Seeding %d rows with %d workers", workers*rows, workers)
		err = tui.ShowSpinner(ctx, title, func() error {
			var serr error
			summary, serr = seeder.Run(ctx, a.store, seeder.Config{
				Workers:      workers,
				Rows:         rows,
				CreateSchema: createSchema,
			}, a.log)
			return serr
		})

		tui.Table(
			[]string{"Inserted", "Failed", "Elapsed", "Rows/s"},
			[][]string{{
				strconv.FormatInt(summary.Inserted, 10),
				strconv.FormatInt(summary.Failed, 10),
				summary.Elapsed.Round(time.Millisecond).String(),
				strconv.FormatFloat(summary.Rate(), 'f', 1, 64),
			}},
		)
		if err != nil {
			tui.ShowError("%s", err)
			a.Close()
			os.Exit(1)
		}
		if len(summary.Sample) > 0 {
			tui.ShowSuccess("try %s", tui.Command("get", summary.Sample[0].String()))
		}
	},
}

func init() {
	seedCmd.Flags().Int("workers", seeder.DefaultWorkers, "concurrent writers")
	seedCmd.Flags().Int("rows", seeder.DefaultRows, "rows per writer")
	seedCmd.Flags().Bool("create-schema", false, "create CacheableTable if it does not exist")
	seedCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
}
