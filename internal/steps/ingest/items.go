package ingest

import (
	"context"
	"fmt"
	"math"

	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

var orderItemColumns = []string{
	"order_id", "product_id", "quantity", "price", "total_price",
	"created_at", "source_system",
}

var orderItemRename = map[string]string{
	"orderId":     "order_id",
	"goodsId":     "product_id",
	"goodsNumber": "quantity",
	"goodsPrice":  "price",
	"goodsTotal":  "total_price",
	"recordTime":  "created_at",
}

// OrderItems is step 02.
type OrderItems struct{}

func init() {
	steps.Register(&OrderItems{})
}

func (s *OrderItems) ID() string   { return "02" }
func (s *OrderItems) Name() string { return "order_items" }

func (s *OrderItems) Description() string {
	return "Merge order lines from both sources into order_items"
}

func (s *OrderItems) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: "order_items"}

	f, err := steps.FetchSources(ctx, env, steps.Both(orderItemsQuery, orderItemsQuery, orderItemRename)...)
	if err != nil {
		return res, fmt.Errorf("failed to extract order items: %w", err)
	}
	res.RowsRead = int64(f.Len())

	f.CoerceAll(frame.KindInt, "order_id", "product_id")
	f.CoerceAll(frame.KindFloat, "quantity", "price", "total_price")
	f.Coerce("created_at", frame.KindTime)

	dropped := f.DropNull("order_id", "product_id", "quantity", "price")
	valid := f.Filter(func(i int) bool {
		q, _ := f.Float(i, "quantity")
		p, _ := f.Float(i, "price")
		return q > 0 && p > 0
	})
	dropped += f.Len() - valid.Len()
	f = valid

	// goodsTotal is missing on some rows and stale on others after
	// price edits; the line total is always quantity times price.
	recomputed := 0
	for i := 0; i < f.Len(); i++ {
		q, _ := f.Float(i, "quantity")
		p, _ := f.Float(i, "price")
		if tp, ok := f.Float(i, "total_price"); !ok || math.Abs(tp-q*p) > 1e-6 {
			recomputed++
		}
		f.Set(i, "total_price", q*p)
	}

	// order ids are only unique within a source
	dupes := f.DedupBy("order_id", "product_id", "created_at", steps.SourceColumn)
	res.RowsDropped = int64(dropped + dupes)

	env.Log.Debug().
		Int("invalid", dropped).
		Int("duplicates", dupes).
		Int("recomputed_totals", recomputed).
		Msg("Cleaned order items")

	if err := steps.Write(ctx, env, steps.Project(f, orderItemColumns...), res.Table, db.ModeReplace, &res); err != nil {
		return res, fmt.Errorf("failed to load order items: %w", err)
	}
	return res, steps.Verify(ctx, env, &res)
}
