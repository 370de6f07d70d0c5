package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cyrg/hotdog-etl/internal/db"
	"github.com/cyrg/hotdog-etl/internal/frame"
	"github.com/cyrg/hotdog-etl/internal/steps"
)

// Placeholders for missing store geography.
const (
	UnknownProvince = "未知省份"
	UnknownCity     = "未知城市"
	UnknownDistrict = "未知区域"
	UnknownAddress  = "未知地址"
)

var storeColumns = []string{
	"id", "store_code", "store_name", "province", "city", "district", "address",
	"rent_amount", "area", "is_close", "is_self", "longitude", "latitude",
	"open_date", "source_system",
}

var storeRename = map[string]string{
	"Id":          "id",
	"ShopName":    "store_name",
	"ShopAddress": "address",
	"rent":        "rent_amount",
	"isClose":     "is_close",
	"isSelf":      "is_self",
	"lng":         "longitude",
	"lat":         "latitude",
}

// Stores is step 03.
type Stores struct{}

func init() {
	steps.Register(&Stores{})
}

func (s *Stores) ID() string   { return "03" }
func (s *Stores) Name() string { return "stores" }

func (s *Stores) Description() string {
	return "Merge shops from both sources into stores and reconcile open dates"
}

func (s *Stores) Run(ctx context.Context, env *steps.Env) (steps.Result, error) {
	res := steps.Result{Table: "stores"}

	f, err := steps.FetchSources(ctx, env, steps.Both(shopQuery, rgShopQuery, storeRename)...)
	if err != nil {
		return res, fmt.Errorf("failed to extract stores: %w", err)
	}
	res.RowsRead = int64(f.Len())

	f.Coerce("id", frame.KindInt)
	f.CoerceAll(frame.KindString, "store_name", "province", "city", "district", "address")
	f.CoerceAll(frame.KindFloat, "rent_amount", "area", "longitude", "latitude")
	f.CoerceAll(frame.KindBool, "is_close", "is_self")
	f.CoerceAll(frame.KindTime, "openingTime", "establishTime", "recordTime")

	dropped := f.DropNull("id")

	f.FillNull("province", UnknownProvince)
	f.FillNull("city", UnknownCity)
	f.FillNull("district", UnknownDistrict)
	f.FillNull("address", UnknownAddress)
	f.FillNull("rent_amount", 0.0)
	f.FillNull("area", 0.0)

	f.AddColumn("store_code", func(i int) any {
		id, _ := f.Int(i, "id")
		return "S" + strconv.FormatInt(id, 10)
	})

	halfCoords := 0
	for i := 0; i < f.Len(); i++ {
		lng, lat := f.Get(i, "longitude"), f.Get(i, "latitude")
		if (lng == nil) != (lat == nil) {
			f.Set(i, "longitude", nil)
			f.Set(i, "latitude", nil)
			halfCoords++
		}
	}

	f.AddColumn("open_date", func(i int) any {
		return earliest(f, i, "openingTime", "establishTime", "recordTime")
	})

	dupes := f.DedupBy("store_name", "address")
	res.RowsDropped = int64(dropped + dupes)

	env.Log.Debug().
		Int("half_coordinates", halfCoords).
		Int("duplicates", dupes).
		Msg("Cleaned stores")

	if err := steps.Write(ctx, env, steps.Project(f, storeColumns...), res.Table, db.ModeReplace, &res); err != nil {
		return res, fmt.Errorf("failed to load stores: %w", err)
	}
	return res, steps.Verify(ctx, env, &res)
}

// earliest returns the minimum non-null time among cols, or nil.
func earliest(f *frame.Frame, i int, cols ...string) any {
	var best time.Time
	for _, c := range cols {
		t, ok := f.Time(i, c)
		if !ok {
			continue
		}
		if best.IsZero() || t.Before(best) {
			best = t
		}
	}
	if best.IsZero() {
		return nil
	}
	return best
}
