package fetch

import (
	"net/http"
	"strings"
)

// cookieJar accumulates cookies across the steps of one fetch operation.
// Cookies are deduplicated by name, last write wins, and replayed in the
// order they were first seen.
type cookieJar struct {
	order  []string
	values map[string]string
}

func newCookieJar() *cookieJar {
	return &cookieJar{values: make(map[string]string)}
}

// Absorb captures every Set-Cookie value from resp into the jar.
func (j *cookieJar) Absorb(resp *http.Response) {
	if resp == nil {
		return
	}
	for _, c := range resp.Cookies() {
		if c.Name == "" {
			continue
		}
		if _, seen := j.values[c.Name]; !seen {
			j.order = append(j.order, c.Name)
		}
		j.values[c.Name] = c.Value
	}
}

// Header renders the jar as a Cookie header value, empty when no cookies
// have been captured.
func (j *cookieJar) Header() string {
	if len(j.order) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(j.order))
	for _, name := range j.order {
		pairs = append(pairs, name+"="+j.values[name])
	}
	return strings.Join(pairs, "; ")
}

// Len reports how many distinct cookies are held.
func (j *cookieJar) Len() int {
	return len(j.order)
}
