package topic

import (
	"regexp"
	"strings"
)

// DefaultPrefix is prepended when a topic uses the "$name" shorthand.
const DefaultPrefix = "logic/"

// Function is the middle path segment that says what a topic is for.
type Function string

const (
	Status Function = "status"
	Set    Function = "set"
	Get    Function = "get"
)

// Namer expands the topic shorthands for one bus prefix.
type Namer struct {
	Prefix string
}

func (n Namer) prefix() string {
	if n.Prefix == "" {
		return DefaultPrefix
	}
	return n.Prefix
}

// ConvertTopic rewrites the first "//" to "/<fn>/". A leading "$" expands
// to "<prefix><fn>/<rest>".
func (n Namer) ConvertTopic(t string, fn Function) string {
	if rest, ok := strings.CutPrefix(t, "$"); ok {
		return n.prefix() + string(fn) + "/" + rest
	}
	return strings.Replace(t, "//", "/"+string(fn)+"/", 1)
}

// NormalizePattern maps every accepted spelling of a handler pattern onto
// the "//" form that dispatch matches against.
func (n Namer) NormalizePattern(p string) string {
	return RemoveStatusFunction(n.ConvertTopic(p, Status))
}

// ConvertTopic uses DefaultPrefix.
func ConvertTopic(t string, fn Function) string { return Namer{}.ConvertTopic(t, fn) }

// NormalizePattern uses DefaultPrefix.
func NormalizePattern(p string) string { return Namer{}.NormalizePattern(p) }

// RemoveStatusFunction rewrites the first "/status/" back to "//".
func RemoveStatusFunction(t string) string {
	return strings.Replace(t, "/status/", "//", 1)
}

// CompileFull compiles p so that it must match a whole topic.
func CompileFull(p string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + p + `)$`)
}
