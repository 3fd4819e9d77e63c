package response

import (
	"net/http"
	"strconv"
	"strings"
)

// ContextKey is the type for context keys used by the response package.
type ContextKey string

// BasePathContextKey is the context key for storing the base path the
// service is mounted under.
const BasePathContextKey ContextKey = "ocdb.basePath"

func getBasePath(r *http.Request) string {
	if basePath, ok := r.Context().Value(BasePathContextKey).(string); ok {
		return basePath
	}
	return ""
}

// BuildBaseURL builds the absolute base URL of the service.
func BuildBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if host == "" {
		host = "localhost:8080"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(getBasePath(r))
	return b.String()
}

// BuildNextLink returns the request URL with its offset parameter set to
// offset. All other parameters are kept.
func BuildNextLink(r *http.Request, offset int) string {
	next := *r.URL
	query := next.Query()
	query.Set("offset", strconv.Itoa(offset))
	next.RawQuery = query.Encode()

	return BuildBaseURL(r) + next.Path + "?" + next.RawQuery
}
