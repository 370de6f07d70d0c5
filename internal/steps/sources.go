package steps

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/frame"
)

// SourceColumn names the column stamped with the originating database.
const SourceColumn = "source_system"

// Source is one extract query against a logical database.
type Source struct {
	Database string
	Query    string

	// Rename maps source column names to warehouse names.
	Rename map[string]string
}

// FetchSources runs the extracts concurrently and concatenates the results
// in the order given, each stamped with its database in source_system.
// Any failed extract fails the whole fetch.
func FetchSources(ctx context.Context, env *Env, sources ...Source) (*frame.Frame, error) {
	frames := make([]*frame.Frame, len(sources))

	g, gCtx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			f, err := env.Gateway.Fetch(gCtx, src.Database, src.Query)
			if err != nil {
				return err
			}
			if src.Rename != nil {
				f.Rename(src.Rename)
			}
			f.AddColumn(SourceColumn, func(int) any { return src.Database })

			env.Log.Debug().
				Str("database", src.Database).
				Int("rows", f.Len()).
				Msg("Extracted source rows")

			frames[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frame.Concat(frames...), nil
}

// Project returns f restricted to cols in order, adding absent columns as
// nulls.
func Project(f *frame.Frame, cols ...string) *frame.Frame {
	for _, c := range cols {
		if !f.Has(c) {
			f.AddColumn(c, nil)
		}
	}
	out, _ := f.Select(cols...)
	return out
}

// Both returns the standard pair of sources, cyrg2025 first.
func Both(query2025, queryWeixin string, rename map[string]string) []Source {
	return []Source{
		{Database: config.DBCyrg2025, Query: query2025, Rename: rename},
		{Database: config.DBCyrgWeixin, Query: queryWeixin, Rename: rename},
	}
}
