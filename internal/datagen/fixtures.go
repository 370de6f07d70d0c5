package datagen

import (
	"strconv"
	"time"

	"github.com/cyrg/hotdog-etl/internal/frame"
)

// Cities used for synthetic shops and addresses.
var Cities = []string{"上海市", "北京市", "广州市", "深圳市", "杭州市", "成都市"}

// OrderColumns are the source Orders columns read by the orders step.
var OrderColumns = []string{
	"orderNo", "shopId", "openId", "total", "payState", "payMode",
	"success_time", "recordTime",
}

// OrderOptions shapes SourceOrders output.
type OrderOptions struct {
	Start, End time.Time
	Shops      int

	// Customers is the pool of openIds orders are drawn from.
	Customers []string

	// DirtyRate is the share of rows with an invalid total or time.
	DirtyRate float64

	// DuplicateRate is the share of rows reusing an earlier orderNo.
	DuplicateRate float64
}

// SourceOrders generates n rows shaped like an Orders extract. Dirty rows
// carry totals outside (0, 10000), unparseable times or null keys, the
// way the operational tables sometimes do.
func (f *Faker) SourceOrders(n int, opts OrderOptions) *frame.Frame {
	out := frame.New(OrderColumns...)
	var issued []string

	for i := 0; i < n; i++ {
		orderNo := "O" + f.Digits(10)
		if len(issued) > 0 && f.Chance(opts.DuplicateRate) {
			orderNo = Choose(f, issued)
		}
		issued = append(issued, orderNo)

		created := f.DateRange(opts.Start, opts.End)
		var createdCell any = created
		total := f.Price(5, 300)
		var totalCell any = total

		if f.Chance(opts.DirtyRate) {
			switch f.Int(0, 3) {
			case 0:
				totalCell = f.Price(10000, 20000)
			case 1:
				totalCell = -total
			case 2:
				createdCell = "not-a-date"
			case 3:
				totalCell = "abc"
			}
		}

		customer := any(nil)
		if len(opts.Customers) > 0 {
			customer = Choose(f, opts.Customers)
		}

		_ = out.Append(
			orderNo,
			int64(f.Int(1, max(opts.Shops, 1))),
			customer,
			totalCell,
			int64(ChooseWeighted(f, []int{2, 1, 0}, []int{90, 8, 2})),
			Choose(f, []string{"wechat", "alipay", "cash", "card"}),
			createdCell,
			created.Add(time.Duration(f.Int(0, 3600))*time.Second),
		)
	}
	return out
}

// ItemColumns are the source OrderGoods columns read by the order items step.
var ItemColumns = []string{"orderId", "goodsId", "goodsNumber", "goodsPrice", "goodsTotal", "recordTime"}

// SourceOrderItems generates n OrderGoods rows; a share have a missing or
// stale line total or a non-positive quantity.
func (f *Faker) SourceOrderItems(n int, start, end time.Time) *frame.Frame {
	out := frame.New(ItemColumns...)
	for i := 0; i < n; i++ {
		qty := float64(f.Int(1, 5))
		price := f.Price(3, 60)
		var total any = qty * price
		switch {
		case f.Chance(0.2):
			total = nil
		case f.Chance(0.1):
			total = qty*price + 1
		}
		if f.Chance(0.05) {
			qty = 0
		}
		_ = out.Append(
			int64(f.Int(1, 100000)),
			int64(f.Int(1, 500)),
			qty,
			price,
			total,
			f.DateRange(start, end),
		)
	}
	return out
}

// MemberColumns are the normalised member columns both member extracts return.
var MemberColumns = []string{"phone", "name", "gender", "birthday", "score", "balance", "openid"}

// SourceMembers generates n member rows. Some phones are blank or padded.
func (f *Faker) SourceMembers(n int) *frame.Frame {
	out := frame.New(MemberColumns...)
	for i := 0; i < n; i++ {
		phone := f.Phone()
		switch {
		case f.Chance(0.05):
			phone = "  "
		case f.Chance(0.1):
			phone = " " + phone + " "
		}
		var birthday any
		if f.Chance(0.7) {
			birthday = f.DateRange(time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2008, 1, 1, 0, 0, 0, 0, time.UTC))
		}
		_ = out.Append(
			phone,
			f.Name(),
			Choose(f, []string{"男", "女"}),
			birthday,
			float64(f.Int(0, 3000)),
			f.Price(0, 500),
			"o"+f.Digits(12),
		)
	}
	return out
}

// ShopColumns are the normalised shop columns both shop extracts return.
var ShopColumns = []string{
	"Id", "ShopName", "province", "city", "district", "ShopAddress", "rent", "area",
	"isClose", "isSelf", "lng", "lat", "openingTime", "establishTime", "recordTime",
}

// SourceShops generates n shops with ids starting at firstID.
func (f *Faker) SourceShops(n int, firstID int64) *frame.Frame {
	out := frame.New(ShopColumns...)
	for i := 0; i < n; i++ {
		city := Choose(f, Cities)
		var lng, lat any = f.Float64(100, 122), f.Float64(22, 40)
		if f.Chance(0.1) {
			lat = nil
		}
		opened := f.DateRange(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		_ = out.Append(
			firstID+int64(i),
			"热狗"+strconv.Itoa(i+1)+"号店",
			nil,
			city,
			nil,
			city+f.Street(),
			f.Price(5000, 30000),
			nil,
			int64(0),
			int64(1),
			lng,
			lat,
			opened,
			opened.AddDate(0, -2, 0),
			opened.AddDate(0, 1, 0),
		)
	}
	return out
}

// SalesColumns are the columns of vw_sales_store_daily.
var SalesColumns = []string{"store_id", "date_key", "revenue", "order_count"}

// ConstantSales returns days of daily revenue equal to value for a store.
func ConstantSales(storeID int64, start time.Time, days int, value float64) *frame.Frame {
	out := frame.New(SalesColumns...)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		key := int64(d.Year()*10000 + int(d.Month())*100 + d.Day())
		_ = out.Append(storeID, key, value, int64(10))
	}
	return out
}
