package app

import (
	"strings"
	"time"

	"mqttlogic/internal/config"
	"mqttlogic/internal/console"
	"mqttlogic/internal/solar"
	"mqttlogic/internal/task/scheduler"
)

// zoneClock answers console time queries without a running scheduler.
type zoneClock struct{ loc *time.Location }

func (zoneClock) List() []scheduler.TimerInfo { return nil }
func (c zoneClock) Now() time.Time             { return time.Now().In(c.loc) }

// OfflineShell is a console shell for one-shot CLI use: only the clock
// and solar commands have data. cfg may be nil.
func OfflineShell(cfg *config.Config, version string) *console.Shell {
	if cfg == nil {
		cfg = &config.Config{}
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return console.NewShell(console.Deps{
		Version: version,
		Timers:  zoneClock{loc: loc},
		Sun:     solar.New(mapLocation(cfg)),
	})
}
