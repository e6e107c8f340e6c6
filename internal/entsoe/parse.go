package entsoe

import (
	"encoding/xml"
	"fmt"
	"time"

	"emarket/internal/model"
)

// periodLayout matches the interval stamps inside a market document,
// e.g. "2021-12-31T23:00Z". The trailing Z is literal; stamps are UTC.
const periodLayout = "2006-01-02T15:04Z"

// Publication document layout, trimmed to the fields the pipeline
// consumes. Everything else in the feed decodes to zero values and is
// ignored.
type marketDocument struct {
	XMLName    xml.Name     `xml:"Publication_MarketDocument"`
	TimeSeries []timeSeries `xml:"TimeSeries"`
}

type timeSeries struct {
	Periods []period `xml:"Period"`
}

type period struct {
	TimeInterval struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	} `xml:"timeInterval"`
	Points []docPoint `xml:"Point"`
}

type docPoint struct {
	Position int     `xml:"position"`
	Price    float64 `xml:"price.amount"`
}

// ParseDocument decodes a Publication_MarketDocument and flattens its
// periods into points. A point's instant is the period start plus
// (position-1) hours. Periods with an unparseable interval are dropped
// and counted in skipped; a document-level decode failure is an error.
func ParseDocument(data []byte) (points []model.Point, skipped int, err error) {
	var doc marketDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode market document: %w", err)
	}
	for _, ts := range doc.TimeSeries {
		for _, p := range ts.Periods {
			start, err := time.Parse(periodLayout, p.TimeInterval.Start)
			if err != nil {
				skipped++
				continue
			}
			for _, dp := range p.Points {
				points = append(points, model.Point{
					At:    start.Add(time.Duration(dp.Position-1) * time.Hour),
					Price: dp.Price,
				})
			}
		}
	}
	return points, skipped, nil
}
