// Package etag computes dataset entity tags and evaluates the conditional
// request headers If-Match and If-None-Match.
package etag

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/nlstn/go-ocdb/internal/store"
)

// Generate returns the weak ETag of d. It changes whenever a stored field of
// the dataset changes.
func Generate(d *store.Dataset) string {
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}

	write(d.ID)
	write(d.Name)
	write(d.Path)
	write(d.Status)
	write(d.Group)
	if d.SubmissionID != nil {
		write(*d.SubmissionID)
	}

	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k)
		write(d.Metadata[k])
	}

	return `W/"` + strconv.FormatUint(h.Sum64(), 16) + `"`
}

// Parse extracts the opaque value of a strong ("v") or weak (W/"v") tag.
func Parse(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	if len(tag) >= 2 && tag[0] == '"' && tag[len(tag)-1] == '"' {
		return tag[1 : len(tag)-1]
	}
	return tag
}

// Match reports whether the If-Match header value allows a change of the
// resource whose tag is current. An empty header always matches.
func Match(ifMatch, current string) bool {
	if ifMatch == "" {
		return true
	}
	return anyMatches(ifMatch, current)
}

// NoneMatch reports whether the If-None-Match header value asks for the
// full response. It returns false when the client's copy is current, i.e.
// a 304 should be sent.
func NoneMatch(ifNoneMatch, current string) bool {
	if ifNoneMatch == "" {
		return true
	}
	return !anyMatches(ifNoneMatch, current)
}

// anyMatches compares current against a comma separated tag list; "*"
// matches any existing resource.
func anyMatches(header, current string) bool {
	if current == "" {
		return false
	}
	want := Parse(current)
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || Parse(tag) == want {
			return true
		}
	}
	return false
}
