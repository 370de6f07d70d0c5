package ingest

import (
	"context"
	"fmt"

	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

// Customer types, later rules override earlier ones.
const (
	TypeRegular   = "普通"
	TypeVIP       = "VIP"
	TypeHighValue = "高价值"
)

var customerColumns = []string{
	"phone", "name", "gender", "birthday", "age", "score", "balance",
	"openid", "customer_type", "source_system",
}

// Customers is step 05.
type Customers struct{}

func init() {
	steps.Register(&Customers{})
}

func (s *Customers) ID() string   { return "05" }
func (s *Customers) Name() string { return "customers" }

func (s *Customers) Description() string {
	return "Union VIP card holders and WeChat users into customers keyed by phone"
}

func (s *Customers) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: "customers"}

	f, err := steps.FetchSources(ctx, env, steps.Both(cardVipQuery, xcxUserQuery, nil)...)
	if err != nil {
		return res, fmt.Errorf("failed to extract customers: %w", err)
	}
	res.RowsRead = int64(f.Len())

	f.CoerceAll(frame.KindString, "phone", "name", "gender", "openid")
	f.CoerceAll(frame.KindFloat, "score", "balance")
	f.Coerce("birthday", frame.KindTime)

	dropped := f.DropNull("phone")
	dupes := f.DedupBy("phone")
	res.RowsDropped = int64(dropped + dupes)

	year := env.Clock().Year()
	f.AddColumn("age", func(i int) any {
		b, ok := f.Time(i, "birthday")
		if !ok {
			return nil
		}
		return int64(year - b.Year())
	})
	f.AddColumn("customer_type", func(i int) any {
		score, _ := f.Float(i, "score")
		balance, _ := f.Float(i, "balance")
		return CustomerType(score, balance)
	})

	if err := steps.Write(ctx, env, steps.Project(f, customerColumns...), res.Table, db.ModeReplace, &res); err != nil {
		return res, fmt.Errorf("failed to load customers: %w", err)
	}
	return res, steps.Verify(ctx, env, &res)
}

// CustomerType applies the type rules in order; the last match wins.
func CustomerType(score, balance float64) string {
	t := TypeRegular
	if score > 1000 {
		t = TypeVIP
	}
	if balance > 100 {
		t = TypeHighValue
	}
	return t
}
