package events

import "strings"

// Filter selects events by name prefix, e.g. "branch." or
// "scenario.updated". An empty filter matches every event.
type Filter []string

// ParseFilter splits a comma separated prefix list as used by the
// ?events= query parameter.
func ParseFilter(s string) Filter {
	var f Filter
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f Filter) Match(name string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
