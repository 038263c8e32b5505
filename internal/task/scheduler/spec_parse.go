package scheduler

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// parseCron accepts 5- or 6-field cron expressions and @descriptors.
// Quartz's "?" (no specific value) is read as "*". An optional "cron:"
// prefix is stripped.
//
// Natural-language phrases fail here, which is how AddTimer tells the two
// apart.
func parseCron(p cron.Parser, raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "cron:"); ok {
		s = strings.TrimSpace(s[len(s)-len(rest):])
	}
	if s == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	if !strings.HasPrefix(s, "@") {
		fields := strings.Fields(s)
		for i, f := range fields {
			if f == "?" {
				fields[i] = "*"
			}
		}
		s = strings.Join(fields, " ")
	}
	return p.Parse(s)
}
