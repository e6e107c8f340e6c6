package model

import "time"

// Series names in the time-series store. Fixed keys: dashboards and
// downstream consumers address the data by these names.
const (
	SeriesHourly  = "np_lt"   // hourly day-ahead prices, top-of-hour UTC instants
	SeriesDaily   = "np_lt_d" // daily means, keyed at local-midnight instants
	SeriesMonthly = "np_lt_m" // monthly means, keyed at first-of-month midnight instants
)

// Point is a single price observation: a UTC instant at millisecond
// resolution and a price in EUR/MWh. Points are immutable once stored.
type Point struct {
	At    time.Time
	Price float64
}

// UnixMilli returns the point's instant in epoch milliseconds, the
// store's native key resolution.
func (p Point) UnixMilli() int64 { return p.At.UnixMilli() }
