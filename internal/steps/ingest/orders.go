// Package ingest holds the extract-and-load steps 01 to 05 that copy the
// operational sources into the warehouse dimensions and facts.
package ingest

import (
	"context"
	"fmt"

	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

// MaxOrderTotal is the exclusive upper bound on a plausible order total.
const MaxOrderTotal = 10000

var orderColumns = []string{
	"order_no", "store_id", "customer_id", "total_amount", "pay_state",
	"pay_mode", "created_at", "updated_at", "source_system", "processed_at",
	"source_order_id",
}

var orderRename = map[string]string{
	"id":           "source_order_id",
	"orderNo":      "order_no",
	"shopId":       "store_id",
	"openId":       "customer_id",
	"total":        "total_amount",
	"payState":     "pay_state",
	"payMode":      "pay_mode",
	"success_time": "created_at",
	"recordTime":   "updated_at",
}

// Orders is step 01.
type Orders struct{}

func init() {
	steps.Register(&Orders{})
}

func (s *Orders) ID() string   { return "01" }
func (s *Orders) Name() string { return "orders" }

func (s *Orders) Description() string {
	return "Merge paid orders from both sources into orders (first source wins per order_no)"
}

func (s *Orders) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: "orders"}

	f, err := steps.FetchSources(ctx, env, steps.Both(ordersQuery, ordersQuery, orderRename)...)
	if err != nil {
		return res, fmt.Errorf("failed to extract orders: %w", err)
	}
	res.RowsRead = int64(f.Len())

	f.CoerceAll(frame.KindTime, "created_at", "updated_at")
	f.CoerceAll(frame.KindString, "order_no", "customer_id", "pay_mode")
	f.CoerceAll(frame.KindInt, "store_id", "pay_state", "source_order_id")
	f.Coerce("total_amount", frame.KindFloat)

	dropped := f.DropNull("order_no", "created_at", "total_amount")
	valid := f.Filter(func(i int) bool {
		v, _ := f.Float(i, "total_amount")
		return v > 0 && v < MaxOrderTotal
	})
	dropped += f.Len() - valid.Len()
	f = valid
	dupes := f.DedupBy("order_no")
	res.RowsDropped = int64(dropped + dupes)

	env.Log.Debug().
		Int("invalid", dropped).
		Int("duplicates", dupes).
		Msg("Cleaned orders")

	now := env.Clock().UTC()
	f.AddColumn("processed_at", func(int) any { return now })

	if err := steps.Write(ctx, env, steps.Project(f, orderColumns...), res.Table, db.ModeReplace, &res); err != nil {
		return res, fmt.Errorf("failed to load orders: %w", err)
	}
	return res, steps.Verify(ctx, env, &res)
}
