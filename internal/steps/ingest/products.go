package ingest

import (
	"context"
	"fmt"
	"math"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

var productColumns = []string{
	"id", "product_name", "category_id", "sale_price", "market_price",
	"cost_price", "stock", "is_sale", "is_hot", "is_recommended", "profit_margin",
}

var productRename = map[string]string{
	"goodsName":   "product_name",
	"categoryId":  "category_id",
	"salePrice":   "sale_price",
	"marketPrice": "market_price",
	"costPrice":   "cost_price",
	"isSale":      "is_sale",
	"isHot":       "is_hot",
	"isRecom":     "is_recommended",
}

// Products is step 04.
type Products struct{}

func init() {
	steps.Register(&Products{})
}

func (s *Products) ID() string   { return "04" }
func (s *Products) Name() string { return "products" }

func (s *Products) Description() string {
	return "Load the cyrg2025 goods catalogue into products with profit margins"
}

func (s *Products) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: "products"}

	f, err := env.Gateway.Fetch(ctx, config.DBCyrg2025, goodsQuery)
	if err != nil {
		return res, fmt.Errorf("failed to extract products: %w", err)
	}
	res.RowsRead = int64(f.Len())
	f.Rename(productRename)

	f.CoerceAll(frame.KindInt, "id", "category_id", "stock")
	f.CoerceAll(frame.KindFloat, "sale_price", "market_price", "cost_price")
	f.CoerceAll(frame.KindBool, "is_sale", "is_hot", "is_recommended")
	f.Coerce("product_name", frame.KindString)

	dropped := f.DropNull("id", "product_name")
	dupes := f.DedupBy("id")
	res.RowsDropped = int64(dropped + dupes)

	f.AddColumn("profit_margin", func(i int) any {
		sale, _ := f.Float(i, "sale_price")
		cost, _ := f.Float(i, "cost_price")
		return ProfitMargin(sale, cost)
	})

	if err := steps.Write(ctx, env, steps.Project(f, productColumns...), res.Table, db.ModeReplace, &res); err != nil {
		return res, fmt.Errorf("failed to load products: %w", err)
	}
	return res, steps.Verify(ctx, env, &res)
}

// ProfitMargin returns (sale-cost)/sale as a percentage rounded to two
// decimals, or 0 unless both prices are positive.
func ProfitMargin(sale, cost float64) float64 {
	if sale <= 0 || cost <= 0 {
		return 0
	}
	return math.Round((sale-cost)/sale*100*100) / 100
}
