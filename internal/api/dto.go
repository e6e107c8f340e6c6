package api

// PricePoint is the wire shape of one price observation.
type PricePoint struct {
	At    int64   `json:"at"`
	Price float64 `json:"price"`
}

// SummaryData is the multi-horizon snapshot served by /summary.
// A field whose source range is empty (or below its minimum point
// count) is omitted rather than sent as null.
type SummaryData struct {
	At               int64    `json:"at"`
	CurrentMonthAvg  *float64 `json:"current_month_avg,omitempty"`
	PreviousMonthAvg *float64 `json:"previous_month_avg,omitempty"`
	TodayAvg         *float64 `json:"today_avg,omitempty"`
	TomorrowAvg      *float64 `json:"tomorrow_avg,omitempty"`
	YesterdayAvg     *float64 `json:"yesterday_avg,omitempty"`
	Last30dAvg       *float64 `json:"last_30d_avg,omitempty"`
	Last7Avg         *float64 `json:"last_7_avg,omitempty"`
}

// LiveResponse reports service and store liveness.
type LiveResponse struct {
	Status  bool   `json:"status"`
	Redis   string `json:"redis"`
	Version string `json:"version"`
}

// NowData is the current hour's price.
type NowData struct {
	At    int64    `json:"at"`
	Price *float64 `json:"price"`
}
