// Package solar computes sunrise, sunset and the sun's position for one
// configured location.
package solar

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Default location, used until config provides one.
const (
	DefaultLatitude  = 51.358813
	DefaultLongitude = 7.241483
)

// ErrNoEvent is returned when the sun does not cross the horizon on that day.
var ErrNoEvent = errors.New("sun does not cross horizon on this day")

// Horizon is the zenith angle that counts as sunrise or sunset.
type Horizon int

const (
	Official Horizon = iota
	Civil
	Nautical
	Astronomical
)

// Horizons lists every horizon, darkest first.
var Horizons = []Horizon{Astronomical, Nautical, Civil, Official}

func (h Horizon) String() string {
	switch h {
	case Civil:
		return "CIVIL"
	case Nautical:
		return "NAUTICAL"
	case Astronomical:
		return "ASTRONOMICAL"
	default:
		return "OFFICIAL"
	}
}

// Zenith in degrees.
func (h Horizon) Zenith() float64 {
	switch h {
	case Civil:
		return 96
	case Nautical:
		return 102
	case Astronomical:
		return 108
	default:
		return 90.833
	}
}

// ParseHorizon accepts the names used in config and time specs. The empty
// string is Official.
func ParseHorizon(s string) (Horizon, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "official":
		return Official, nil
	case "civil":
		return Civil, nil
	case "nautical", "nautic":
		return Nautical, nil
	case "astronomical", "astro":
		return Astronomical, nil
	}
	return Official, fmt.Errorf("unknown horizon %q", s)
}

// Calculator is safe for concurrent use; SetLocation may be called while
// other goroutines compute times.
type Calculator struct {
	mu  sync.RWMutex
	lat float64
	lon float64
}

func New(lat, lon float64) *Calculator {
	return &Calculator{lat: lat, lon: lon}
}

func (c *Calculator) SetLocation(lat, lon float64) {
	c.mu.Lock()
	c.lat, c.lon = lat, lon
	c.mu.Unlock()
}

func (c *Calculator) Location() (lat, lon float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lat, c.lon
}

// Sunrise returns the sunrise on day's calendar date, in day's location.
func (c *Calculator) Sunrise(h Horizon, day time.Time) (time.Time, error) {
	return c.event(h, day, true)
}

// Sunset returns the sunset on day's calendar date, in day's location.
func (c *Calculator) Sunset(h Horizon, day time.Time) (time.Time, error) {
	return c.event(h, day, false)
}

// IsDaylight reports whether at lies strictly between sunrise and sunset.
// Polar day counts as daylight, polar night does not.
func (c *Calculator) IsDaylight(h Horizon, at time.Time) bool {
	rise, err1 := c.Sunrise(h, at)
	set, err2 := c.Sunset(h, at)
	if err1 != nil || err2 != nil {
		return c.Altitude(at) > 90-h.Zenith()
	}
	return at.After(rise) && at.Before(set)
}

const deg = math.Pi / 180

func sinDeg(x float64) float64 { return math.Sin(x * deg) }
func cosDeg(x float64) float64 { return math.Cos(x * deg) }
func tanDeg(x float64) float64 { return math.Tan(x * deg) }

func norm(x, m float64) float64 {
	x = math.Mod(x, m)
	if x < 0 {
		x += m
	}
	return x
}

// event implements the sunrise equation from the Nautical Almanac Office
// ("Almanac for Computers", 1990).
func (c *Calculator) event(h Horizon, day time.Time, rising bool) (time.Time, error) {
	lat, lon := c.Location()
	loc := day.Location()
	y, mo, d := day.Date()
	n := float64(time.Date(y, mo, d, 0, 0, 0, 0, time.UTC).YearDay())

	lngHour := lon / 15
	t := n + (18-lngHour)/24
	if rising {
		t = n + (6-lngHour)/24
	}

	m := 0.9856*t - 3.289
	l := norm(m+1.916*sinDeg(m)+0.020*sinDeg(2*m)+282.634, 360)

	ra := norm(math.Atan(0.91764*tanDeg(l))/deg, 360)
	ra += math.Floor(l/90)*90 - math.Floor(ra/90)*90
	ra /= 15

	sinDec := 0.39782 * sinDeg(l)
	cosDec := math.Cos(math.Asin(sinDec))

	cosH := (cosDeg(h.Zenith()) - sinDec*sinDeg(lat)) / (cosDec * cosDeg(lat))
	if cosH > 1 || cosH < -1 {
		return time.Time{}, ErrNoEvent
	}
	hourAngle := math.Acos(cosH) / deg
	if rising {
		hourAngle = 360 - hourAngle
	}
	hourAngle /= 15

	localMean := hourAngle + ra - 0.06571*t - 6.622
	ut := norm(localMean-lngHour, 24)

	out := time.Date(y, mo, d, 0, 0, 0, 0, time.UTC).Add(time.Duration(ut * float64(time.Hour))).In(loc)
	// UT may land on the neighbouring local date for large offsets.
	if oy, om, od := out.Date(); oy != y || om != mo || od != d {
		if out.Before(time.Date(y, mo, d, 0, 0, 0, 0, loc)) {
			out = out.Add(24 * time.Hour)
		} else {
			out = out.Add(-24 * time.Hour)
		}
	}
	return out, nil
}

// position follows the method at aa.quae.nl/en/reken/zonpositie.html.
// Both results are in degrees; azimuth is measured from north, clockwise.
func (c *Calculator) position(at time.Time) (altitude, azimuth float64) {
	lat, lon := c.Location()
	const (
		j1970 = 2440588.0
		j2000 = 2451545.0
	)
	j := float64(at.UnixMilli())/86400000 - 0.5 + j1970
	m := (357.5291 + 0.98560028*(j-j2000)) * deg
	cEq := (1.9148*math.Sin(m) + 0.0200*math.Sin(2*m) + 0.0003*math.Sin(3*m)) * deg
	lsun := m + 102.9372*deg + cEq + math.Pi
	e := 23.45 * deg
	dec := math.Asin(math.Sin(lsun) * math.Sin(e))
	ra := math.Atan2(math.Sin(lsun)*math.Cos(e), math.Cos(lsun))
	lw := -lon * deg
	phi := lat * deg
	th := 280.1600*deg + 360.9856235*deg*(j-j2000) - lw
	hAng := th - ra

	altitude = math.Asin(math.Sin(phi)*math.Sin(dec)+math.Cos(phi)*math.Cos(dec)*math.Cos(hAng)) / deg
	azimuth = norm((math.Pi+math.Atan2(math.Sin(hAng), math.Cos(hAng)*math.Sin(phi)-math.Tan(dec)*math.Cos(phi)))/deg, 360)
	return altitude, azimuth
}

// Altitude of the sun above the horizon at the given instant, in degrees.
func (c *Calculator) Altitude(at time.Time) float64 {
	alt, _ := c.position(at)
	return alt
}

// Azimuth of the sun at the given instant, degrees from north.
func (c *Calculator) Azimuth(at time.Time) float64 {
	_, az := c.position(at)
	return az
}

// HHMM formats a solar time the way time specs and the console show it.
func HHMM(t time.Time) string { return t.Format("15:04") }
