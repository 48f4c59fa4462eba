package market

import (
	"errors"
	"math"
	"testing"
	"time"
)

func day(yy, mm, dd int) time.Time {
	return time.Date(yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
}

func testSeries(t *testing.T) *Series {
	t.Helper()
	surf, err := NewSurface("SPY", day(2024, 3, 1), gridQuotes(), ExtrapolateFlat)
	if err != nil {
		t.Fatalf("NewSurface: %v", err)
	}
	snaps := []Snapshot{
		{Date: day(2024, 3, 1), Spot: 400, Surface: surf, Rate: 0.05, DividendYield: 0.01},
		{Date: day(2024, 3, 4), Spot: 404, Surface: surf, Rate: 0.05, DividendYield: 0.01},
		{Date: day(2024, 3, 5), Spot: 398, Surface: surf, Rate: 0.052, DividendYield: 0.01},
	}
	s, err := NewSeries("SPY", snaps)
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	return s
}

func TestSeries_Lookups(t *testing.T) {
	s := testSeries(t)

	spot, err := s.Spot(day(2024, 3, 4))
	if err != nil || spot != 404 {
		t.Fatalf("Spot = %v, %v; want 404, nil", spot, err)
	}
	rate, err := s.Rate(day(2024, 3, 5))
	if err != nil || rate != 0.052 {
		t.Fatalf("Rate = %v, %v; want 0.052, nil", rate, err)
	}
	if _, err := s.SurfaceAt(day(2024, 3, 1)); err != nil {
		t.Fatalf("SurfaceAt: %v", err)
	}
}

func TestSeries_MissingDateIsHardError(t *testing.T) {
	s := testSeries(t)

	// 2024-03-02 is a Saturday with no snapshot.
	_, err := s.Spot(day(2024, 3, 2))
	if err == nil {
		t.Fatal("expected MissingMarketDataError for gap date")
	}
	var merr *MissingMarketDataError
	if !errors.As(err, &merr) {
		t.Fatalf("error %v is not a *MissingMarketDataError", err)
	}
	if merr.Field != "spot" || !merr.Date.Equal(day(2024, 3, 2)) {
		t.Fatalf("unexpected error detail: %+v", merr)
	}
}

func TestSeries_RejectsDuplicatesAndBadSpots(t *testing.T) {
	surf, _ := NewSurface("SPY", day(2024, 3, 1), gridQuotes(), ExtrapolateFlat)

	_, err := NewSeries("SPY", []Snapshot{
		{Date: day(2024, 3, 1), Spot: 400, Surface: surf},
		{Date: day(2024, 3, 1), Spot: 401, Surface: surf},
	})
	if err == nil {
		t.Fatal("expected error for duplicate dates")
	}

	_, err = NewSeries("SPY", []Snapshot{
		{Date: day(2024, 3, 1), Spot: -1, Surface: surf},
	})
	if err == nil {
		t.Fatal("expected error for negative spot")
	}
}

func TestSeries_DatesRange(t *testing.T) {
	s := testSeries(t)

	got := s.Dates(day(2024, 3, 1), day(2024, 3, 4))
	if len(got) != 2 || !got[0].Equal(day(2024, 3, 1)) || !got[1].Equal(day(2024, 3, 4)) {
		t.Fatalf("Dates = %v, want [2024-03-01 2024-03-04]", got)
	}
	if n := len(s.Dates(day(2024, 1, 1), day(2024, 12, 31))); n != 3 {
		t.Fatalf("full-range Dates length = %d, want 3", n)
	}
}

func TestSeries_Forward(t *testing.T) {
	s := testSeries(t)

	d := day(2024, 3, 1)
	expiry := d.AddDate(0, 0, 365)
	f, err := s.Forward(d, expiry)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := 400 * math.Exp(0.05-0.01)
	if math.Abs(f-want) > 1e-9 {
		t.Fatalf("Forward = %v, want %v", f, want)
	}
}

func TestSeries_BumpViews(t *testing.T) {
	s := testSeries(t)
	d := day(2024, 3, 1)

	up := s.BumpSpot(0.01)
	spot, err := up.Spot(d)
	if err != nil {
		t.Fatalf("bumped Spot: %v", err)
	}
	if math.Abs(spot-404) > 1e-9 {
		t.Fatalf("bumped spot = %v, want 404", spot)
	}
	// Base series is untouched.
	base, _ := s.Spot(d)
	if base != 400 {
		t.Fatalf("base spot mutated to %v", base)
	}

	shifted := s.BumpVol(0.01)
	v0, _ := s.ImpliedVol(d, 400, 30)
	v1, _ := shifted.ImpliedVol(d, 400, 30)
	if math.Abs((v1-v0)-0.01) > 1e-12 {
		t.Fatalf("vol shift = %v, want 0.01", v1-v0)
	}

	r := s.BumpRate(0.0001)
	r0, _ := s.Rate(d)
	r1, _ := r.Rate(d)
	if math.Abs((r1-r0)-0.0001) > 1e-15 {
		t.Fatalf("rate shift = %v, want 0.0001", r1-r0)
	}
}

func TestCalendarDays(t *testing.T) {
	if got := CalendarDays(day(2024, 3, 1), day(2024, 3, 31)); got != 30 {
		t.Fatalf("CalendarDays = %d, want 30", got)
	}
	if got := CalendarDays(day(2024, 3, 31), day(2024, 3, 1)); got != -30 {
		t.Fatalf("CalendarDays reversed = %d, want -30", got)
	}
}
