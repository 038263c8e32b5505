package console

import (
	"sort"
	"strings"
	"time"

	"mqttlogic/internal/events"
	"mqttlogic/internal/solar"
	"mqttlogic/internal/task/scheduler"
	"mqttlogic/internal/timespec"
)

// Terminator ends every command response.
const Terminator = "."

type Timers interface {
	List() []scheduler.TimerInfo
	Now() time.Time
}

type Events interface {
	ListAll() []events.HandlerInfo
}

// Sun is satisfied by *solar.Calculator.
type Sun interface {
	timespec.SolarClock
	IsDaylight(h solar.Horizon, at time.Time) bool
}

// Deps are the read-only views the commands render. Nil members make
// their command answer with an error line.
type Deps struct {
	Version string
	Timers  Timers
	Events  Events
	Sun     Sun
}

// Command is one console verb. Run receives the text after the verb.
type Command struct {
	Name        string
	Description string
	Run         func(arg string) []string
	quit        bool
}

// Shell resolves and runs command lines. It holds no connection state.
type Shell struct {
	deps Deps
	cmds map[string]*Command
}

func NewShell(deps Deps) *Shell {
	sh := &Shell{deps: deps, cmds: map[string]*Command{}}
	sh.add(&Command{Name: "HELP", Description: "Show command reference", Run: sh.help})
	sh.add(&Command{Name: "QUIT", Description: "Close the connection", quit: true})
	sh.add(&Command{Name: "TIMERS", Description: "List active timers", Run: sh.timers})
	sh.add(&Command{Name: "EVENTS", Description: "List registered event handlers", Run: sh.events})
	sh.add(&Command{Name: "TIMES", Description: "Get current sunrise/sunset times for the various zeniths", Run: sh.times})
	sh.add(&Command{Name: "PARSETIME", Description: "Parse a natural language time description", Run: sh.parseTime})
	return sh
}

func (sh *Shell) add(c *Command) { sh.cmds[c.Name] = c }

// Greeting is the first line a client sees.
func (sh *Shell) Greeting() string {
	v := sh.deps.Version
	if v == "" {
		v = "dev"
	}
	return "mqttlogic " + v + " - use HELP for list of commands"
}

// Execute runs one line and returns the response lines including the
// terminator. quit is set for QUIT, which has no response.
func (sh *Shell) Execute(line string) (out []string, quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false
	}
	name, arg, _ := strings.Cut(line, " ")
	cmd, ok := sh.cmds[strings.ToUpper(name)]
	if !ok {
		return []string{"-Unknown command " + name, Terminator}, false
	}
	if cmd.quit {
		return nil, true
	}
	return append(cmd.Run(strings.TrimSpace(arg)), Terminator), false
}

func (sh *Shell) help(string) []string {
	names := make([]string, 0, len(sh.cmds))
	for n := range sh.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n+"\t"+sh.cmds[n].Description)
	}
	return out
}

func (sh *Shell) timers(string) []string {
	if sh.deps.Timers == nil {
		return []string{"-Scheduler not available"}
	}
	list := sh.deps.Timers.List()
	out := make([]string, 0, len(list))
	for _, ti := range list {
		out = append(out, ti.Summary())
	}
	return out
}

func (sh *Shell) events(string) []string {
	if sh.deps.Events == nil {
		return []string{"-Event registry not available"}
	}
	list := sh.deps.Events.ListAll()
	out := make([]string, 0, len(list))
	for _, hi := range list {
		out = append(out, hi.Summary())
	}
	return out
}

func (sh *Shell) times(string) []string {
	if sh.deps.Sun == nil {
		return []string{"-Solar clock not configured"}
	}
	now := sh.now()
	out := make([]string, 0, len(solar.Horizons))
	for _, h := range solar.Horizons {
		line := h.String() + " " + clockOrDash(sh.deps.Sun.Sunrise(h, now)) + " " + clockOrDash(sh.deps.Sun.Sunset(h, now))
		if sh.deps.Sun.IsDaylight(h, now) {
			line += " DL"
		}
		out = append(out, line)
	}
	return out
}

func (sh *Shell) parseTime(arg string) []string {
	if arg == "" {
		return []string{"Invalid time specification: missing argument"}
	}
	var clock timespec.SolarClock
	if sh.deps.Sun != nil {
		clock = sh.deps.Sun
	}
	p, err := timespec.Parse(arg, sh.now(), clock)
	if err != nil {
		return []string{"Invalid time specification: " + err.Error()}
	}
	return []string{p.Format()}
}

func (sh *Shell) now() time.Time {
	if sh.deps.Timers != nil {
		return sh.deps.Timers.Now()
	}
	return time.Now()
}

func clockOrDash(t time.Time, err error) string {
	// polar day and night have no crossing
	if err != nil {
		return "-"
	}
	return solar.HHMM(t)
}
