package solar

import (
	"errors"
	"math"
	"testing"
	"time"
)

func within(t *testing.T, what string, got, want time.Time, tol time.Duration) {
	t.Helper()
	d := got.Sub(want)
	if d < 0 {
		d = -d
	}
	if d > tol {
		t.Fatalf("%s = %s, want %s ±%s", what, got.Format(time.RFC3339), want.Format(time.RFC3339), tol)
	}
}

func TestSunriseWorkedExample(t *testing.T) {
	t.Parallel()

	// Wayne, NJ on 1990-06-25: official sunrise 09:26 UT.
	c := New(40.9, -74.3)
	got, err := c.Sunrise(Official, time.Date(1990, 6, 25, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Sunrise: %v", err)
	}
	within(t, "sunrise", got, time.Date(1990, 6, 25, 9, 26, 0, 0, time.UTC), 2*time.Minute)
}

func TestHorizonOrdering(t *testing.T) {
	t.Parallel()

	cest := time.FixedZone("CEST", 2*3600)
	day := time.Date(2026, 4, 10, 12, 0, 0, 0, cest)
	c := New(DefaultLatitude, DefaultLongitude)

	var prevRise, prevSet time.Time
	for i, h := range Horizons {
		rise, err := c.Sunrise(h, day)
		if err != nil {
			t.Fatalf("%s sunrise: %v", h, err)
		}
		set, err := c.Sunset(h, day)
		if err != nil {
			t.Fatalf("%s sunset: %v", h, err)
		}
		if rise.Location() != cest || rise.Day() != 10 || set.Day() != 10 {
			t.Fatalf("%s: wrong day/location %s %s", h, rise, set)
		}
		if i > 0 && (!rise.After(prevRise) || !set.Before(prevSet)) {
			t.Fatalf("%s should be inside the previous horizon: %s-%s vs %s-%s", h, rise, set, prevRise, prevSet)
		}
		prevRise, prevSet = rise, set
	}

	// Official sunset there on 2026-04-10 is about 20:18 CEST.
	within(t, "official sunset", prevSet, time.Date(2026, 4, 10, 20, 18, 0, 0, cest), 5*time.Minute)
}

func TestPolarDay(t *testing.T) {
	t.Parallel()

	c := New(78.2, 15.6)
	_, err := c.Sunset(Official, time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoEvent) {
		t.Fatalf("want ErrNoEvent, got %v", err)
	}
	if !c.IsDaylight(Official, time.Date(2026, 6, 21, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("midnight sun should count as daylight")
	}
}

func TestPositionAtNoon(t *testing.T) {
	t.Parallel()

	c := New(DefaultLatitude, DefaultLongitude)
	at := time.Date(2026, 6, 21, 11, 32, 0, 0, time.UTC)
	alt := c.Altitude(at)
	az := c.Azimuth(at)
	if math.Abs(alt-62.1) > 1.5 {
		t.Fatalf("altitude=%.2f want ~62.1", alt)
	}
	if math.Abs(az-180) > 5 {
		t.Fatalf("azimuth=%.2f want ~180", az)
	}
	if c.Altitude(at.Add(12*time.Hour)) > 0 {
		t.Fatalf("sun should be below the horizon at midnight")
	}
}

func TestParseHorizon(t *testing.T) {
	t.Parallel()

	cases := map[string]Horizon{"": Official, "civil": Civil, "Nautic": Nautical, "astro": Astronomical, "OFFICIAL": Official}
	for in, want := range cases {
		got, err := ParseHorizon(in)
		if err != nil || got != want {
			t.Fatalf("ParseHorizon(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseHorizon("daylight"); err == nil {
		t.Fatalf("expected error")
	}
}
