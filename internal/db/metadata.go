//-------------------------------------------------------------------------
//
// hotdog2030 Warehouse ETL
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/logging"
)

// MetadataTable holds key/value facts about the last pipeline run. It is
// created by the schema bootstrapper and written only by the executor.
const MetadataTable = "etl_run_metadata"

// SaveMetadata upserts run metadata into the warehouse.
func (g *Gateway) SaveMetadata(ctx context.Context, values map[string]string) error {
	dialect, err := g.Dialect(ctx, config.DBWarehouse)
	if err != nil {
		return err
	}

	stmt := dialect.UpsertValues(MetadataTable,
		[]string{"meta_key"}, []string{"meta_key", "meta_value"})

	// Stable order keeps statements reproducible in logs and tests
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, err := g.Exec(ctx, config.DBWarehouse, stmt, key, values[key]); err != nil {
			return fmt.Errorf("failed to save metadata %s: %w", key, err)
		}
	}

	logging.Debug().
		Int("keys", len(keys)).
		Msg("Saved run metadata")

	return nil
}

// GetMetadata retrieves all run metadata as a map.
func (g *Gateway) GetMetadata(ctx context.Context) (map[string]string, error) {
	f, err := g.Fetch(ctx, config.DBWarehouse,
		"SELECT meta_key, meta_value FROM "+MetadataTable)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]string, f.Len())
	for i := 0; i < f.Len(); i++ {
		k, _ := f.String(i, "meta_key")
		v, _ := f.String(i, "meta_value")
		metadata[k] = v
	}
	return metadata, nil
}
