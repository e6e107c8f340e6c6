// Package timebucket maps instants to day and month bucket boundaries
// in a fixed civil time zone. Buckets are half-open [from, to) UTC
// intervals whose edges sit on local midnights, so bucket lengths
// stretch across DST transitions: spring-forward days are 23 hours,
// fall-back days 25 hours. Every instant belongs to exactly one
// day-bucket and one month-bucket.
package timebucket

import (
	"fmt"
	"time"
	// Embedded zone database, so boundary math works on hosts and
	// containers without a system tzdata.
	_ "time/tzdata"
)

// DefaultZone is the market area's civil time zone.
const DefaultZone = "Europe/Vilnius"

// Bucketer derives bucket boundaries in one civil time zone.
type Bucketer struct {
	loc *time.Location
}

// New returns a Bucketer for loc.
func New(loc *time.Location) *Bucketer { return &Bucketer{loc: loc} }

// ForZone loads the named IANA zone and returns a Bucketer for it.
func ForZone(name string) (*Bucketer, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}
	return New(loc), nil
}

// DayWindow returns the UTC half-open interval [from, to) covering the
// local calendar day that contains t. from is the UTC instant of the
// local midnight opening the day, to the next local midnight.
func (b *Bucketer) DayWindow(t time.Time) (time.Time, time.Time) {
	lt := t.In(b.loc)
	from := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, b.loc)
	to := time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, b.loc)
	return from.UTC(), to.UTC()
}

// MonthWindow returns the UTC half-open interval [from, to) covering
// the local calendar month that contains t.
func (b *Bucketer) MonthWindow(t time.Time) (time.Time, time.Time) {
	lt := t.In(b.loc)
	from := time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, b.loc)
	to := time.Date(lt.Year(), lt.Month()+1, 1, 0, 0, 0, 0, b.loc)
	return from.UTC(), to.UTC()
}

// DayBoundary returns the UTC instant of local midnight on the day
// shifted by days calendar days from the local day containing t.
func (b *Bucketer) DayBoundary(t time.Time, days int) time.Time {
	lt := t.In(b.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+days, 0, 0, 0, 0, b.loc).UTC()
}

// MonthBoundary returns the UTC instant of the first local midnight of
// the month shifted by months calendar months from the local month
// containing t. Negative shifts carry across year boundaries, so a
// shift of -13 from February lands in January of the previous year.
func (b *Bucketer) MonthBoundary(t time.Time, months int) time.Time {
	lt := t.In(b.loc)
	return time.Date(lt.Year(), lt.Month()+time.Month(months), 1, 0, 0, 0, 0, b.loc).UTC()
}
