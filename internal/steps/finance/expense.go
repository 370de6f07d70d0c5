// Package finance holds step 06b, which folds imported operating expenses
// into the daily profit fact.
package finance

import (
	"context"
	"fmt"

	"github.com/cyrg/hotdog-etl/internal/config"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

const (
	importTable = "operating_expense_import"
	profitTable = "fact_profit_daily"
)

// expenseAggregate yields rows in profitColumns order. Revenue and COGS are
// zero for rows that only exist on the expense side.
const expenseAggregate = `SELECT date_key, store_id, 0 AS revenue, 0 AS cogs, SUM(amount) AS operating_exp
FROM operating_expense_import
WHERE date_key IS NOT NULL AND store_id IS NOT NULL
GROUP BY date_key, store_id`

var (
	profitKeys    = []string{"date_key", "store_id"}
	profitColumns = []string{"date_key", "store_id", "revenue", "cogs", "operating_exp"}
)

// ExpenseMerge is step 06b.
type ExpenseMerge struct{}

func init() {
	steps.Register(&ExpenseMerge{})
}

func (s *ExpenseMerge) ID() string   { return "06b" }
func (s *ExpenseMerge) Name() string { return "operating_expense_merge" }

func (s *ExpenseMerge) Description() string {
	return "Upsert summed operating expenses into fact_profit_daily"
}

func (s *ExpenseMerge) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: profitTable}

	read, err := env.Gateway.Count(ctx, importTable, config.DBWarehouse)
	if err != nil {
		return res, fmt.Errorf("failed to count %s: %w", importTable, err)
	}
	res.RowsRead = read
	if read == 0 {
		env.Log.Info().Msg("No imported operating expenses")
		return res, steps.Verify(ctx, env, &res)
	}

	dialect, err := env.Gateway.Dialect(ctx, config.DBWarehouse)
	if err != nil {
		return res, err
	}
	stmt := dialect.UpsertSelect(profitTable, profitKeys, profitColumns,
		[]string{"operating_exp"}, expenseAggregate)

	n, err := env.Gateway.Exec(ctx, config.DBWarehouse, stmt)
	if err != nil {
		return res, fmt.Errorf("failed to merge operating expenses: %w", err)
	}
	res.RowsWritten = n

	return res, steps.Verify(ctx, env, &res)
}
