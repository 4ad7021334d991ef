package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentuity/readaside/client"
	"github.com/agentuity/readaside/env"
	"github.com/agentuity/readaside/item"
	"github.com/agentuity/readaside/resolver"
	"github.com/agentuity/readaside/tui"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Resolve one row through the cache and print it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key, id, err := item.ParseKey(args[0])
		if err != nil {
			tui.ShowError("%s", err)
			os.Exit(1)
		}
		if base, _ := cmd.Flags().GetString("url"); base != "" {
			fields, _ := cmd.Flags().GetStringSlice("fields")
			getRemote(cmd, base, id, fields)
			return
		}

		a, err := newApp(cmd)
		if err != nil {
			tui.ShowError("%s", err)
			os.Exit(1)
		}
		defer a.Close()
		if err := a.withResolver(); err != nil {
			a.fail(err)
			return
		}

		var res resolver.Result
		started := time.Now()
		err = tui.ShowSpinner(a.ctx, "Resolving "+id.String(), func() error {
			var rerr error
			res, rerr = a.resolver.Resolve(a.ctx, key)
			return rerr
		})
		elapsed := time.Since(started)
		if err != nil {
			tui.ShowError("%s", err)
			a.Close()
			os.Exit(1)
		}
		if !res.Found {
			tui.ShowWarning("%s not found %s", id, tui.Muted(fmt.Sprintf("(%s, %s)", res.Source, elapsed)))
			return
		}
		tui.Record(itemRecord(res.Item))
		tui.ShowSuccess("served from %s in %s", res.Source, elapsed.Round(time.Microsecond))
	},
}

// getRemote reads through a running service instead of the local stack.
func getRemote(cmd *cobra.Command, base string, id uuid.UUID, fields []string) {
	c, err := client.New(base, env.NewLogger(cmd))
	if err != nil {
		tui.ShowError("%s", err)
		os.Exit(1)
	}
	ctx := cmd.Context()
	var res *client.Response
	started := time.Now()
	err = tui.ShowSpinner(ctx, "Fetching "+id.String(), func() error {
		var rerr error
		res, rerr = c.Get(ctx, id, fields...)
		return rerr
	})
	elapsed := time.Since(started)
	switch {
	case errors.Is(err, client.ErrNotFound):
		tui.ShowWarning("%s not found", id)
		return
	case err != nil:
		tui.ShowError("%s", err)
		os.Exit(1)
	}
	if len(fields) > 0 {
		pairs := make([][2]string, 0, len(fields))
		for _, f := range fields {
			pairs = append(pairs, [2]string{f, string(res.Fields[f])})
		}
		tui.Record(pairs)
	} else {
		tui.Record(itemRecord(res.Item))
	}
	tui.ShowSuccess("cache %s in %s %s", res.Cache, elapsed.Round(time.Microsecond), tui.Muted("etag "+res.ETag))
}

func init() {
	getCmd.Flags().String("url", "", "read through the service at this base url instead of connecting to the cache and store")
	getCmd.Flags().StringSlice("fields", nil, "columns to fetch with --url")
}

func itemRecord(it item.Item) [][2]string {
	values := it.Values()
	pairs := make([][2]string, 0, len(item.Columns))
	for _, c := range item.Columns {
		v := values[c]
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339Nano)
		}
		pairs = append(pairs, [2]string{c, fmt.Sprint(v)})
	}
	return pairs
}
