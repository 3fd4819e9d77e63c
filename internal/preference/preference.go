// Package preference parses the Prefer request header (RFC 7240).
package preference

import (
	"net/http"
	"strings"
)

// Return preferences
const (
	ReturnRepresentation = "return=representation"
	ReturnMinimal        = "return=minimal"
)

// Preference holds the preferences of a request that the service honors.
type Preference struct {
	ReturnRepresentation bool
	ReturnMinimal        bool
}

// ParsePrefer parses the Prefer headers of r. Unknown preferences are
// ignored; when both return values are given the last one wins.
func ParsePrefer(r *http.Request) *Preference {
	pref := &Preference{}
	for _, header := range r.Header.Values("Prefer") {
		for _, p := range strings.Split(header, ",") {
			// parameters after ';' do not apply to return preferences
			p, _, _ = strings.Cut(p, ";")
			switch strings.ToLower(strings.TrimSpace(p)) {
			case ReturnRepresentation:
				pref.ReturnRepresentation, pref.ReturnMinimal = true, false
			case ReturnMinimal:
				pref.ReturnRepresentation, pref.ReturnMinimal = false, true
			}
		}
	}
	return pref
}

// ShouldReturnContent reports whether a write should answer with the
// stored dataset. Writes return the representation unless return=minimal
// was asked for.
func (p *Preference) ShouldReturnContent() bool {
	return !p.ReturnMinimal
}

// Applied returns the Preference-Applied header value, or "" if no
// preference was applied.
func (p *Preference) Applied() string {
	switch {
	case p.ReturnRepresentation:
		return ReturnRepresentation
	case p.ReturnMinimal:
		return ReturnMinimal
	}
	return ""
}
