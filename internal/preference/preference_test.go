package preference

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParsePrefer(t *testing.T) {
	tests := []struct {
		name               string
		headers            []string
		wantRepresentation bool
		wantMinimal        bool
		wantApplied        string
	}{
		{"No header", nil, false, false, ""},
		{"Minimal", []string{"return=minimal"}, false, true, ReturnMinimal},
		{"Representation", []string{"return=representation"}, true, false, ReturnRepresentation},
		{"Case insensitive", []string{"Return=Minimal"}, false, true, ReturnMinimal},
		{"With other preferences", []string{"respond-async, return=minimal"}, false, true, ReturnMinimal},
		{"Parameters ignored", []string{"return=minimal; foo=bar"}, false, true, ReturnMinimal},
		{"Last one wins", []string{"return=minimal", "return=representation"}, true, false, ReturnRepresentation},
		{"Unknown only", []string{"wait=10"}, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/datasets", nil)
			for _, h := range tt.headers {
				r.Header.Add("Prefer", h)
			}

			pref := ParsePrefer(r)
			if pref.ReturnRepresentation != tt.wantRepresentation {
				t.Errorf("ReturnRepresentation = %v, want %v", pref.ReturnRepresentation, tt.wantRepresentation)
			}
			if pref.ReturnMinimal != tt.wantMinimal {
				t.Errorf("ReturnMinimal = %v, want %v", pref.ReturnMinimal, tt.wantMinimal)
			}
			if got := pref.Applied(); got != tt.wantApplied {
				t.Errorf("Applied() = %q, want %q", got, tt.wantApplied)
			}
			if got := pref.ShouldReturnContent(); got != !tt.wantMinimal {
				t.Errorf("ShouldReturnContent() = %v, want %v", got, !tt.wantMinimal)
			}
		})
	}
}
