package ocdb

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nlstn/go-ocdb/internal/observability"
	"github.com/nlstn/go-ocdb/internal/store"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Target  string `json:"target"`
		Details []struct {
			Code    string `json:"code"`
			Target  string `json:"target"`
			Message string `json:"message"`
		} `json:"details"`
	} `json:"error"`
}

type pageBody struct {
	TotalCount int64           `json:"total_count"`
	Datasets   []store.Dataset `json:"datasets"`
	NextLink   string          `json:"next_link"`
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	db, err := store.Open("sqlite", ":memory:", &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() }) //nolint:errcheck

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	svc, err := NewService(db, opts...)
	require.NoError(t, err)
	require.NoError(t, svc.Migrate(context.Background()))
	return svc
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func seedService(t *testing.T, h http.Handler) {
	t.Helper()
	datasets := []map[string]interface{}{
		{
			"id":       "d1",
			"name":     "baltic_1.sb",
			"path":     "/data/ocean_optics/baltic_1.sb",
			"group":    "ocean_optics",
			"metadata": map[string]string{"investigators": "Steven_Effler", "cruise": "baltic_1", "depth": "15"},
		},
		{
			"id":       "d2",
			"name":     "pacific_2.sb",
			"path":     "/data/pacific/pacific_2.sb",
			"status":   store.StatusValidated,
			"metadata": map[string]string{"investigators": "Steven_X_Effler", "depth": "120"},
		},
		{
			"id":       "d3",
			"name":     "arctic.csv",
			"path":     "/data/arctic/arctic.csv",
			"status":   store.StatusCanceled,
			"metadata": map[string]string{"cruise": "arctic sea run", "depth": "-3.5"},
		},
	}
	for _, d := range datasets {
		w := do(t, h, http.MethodPost, "/datasets", d)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
}

func ids(datasets []store.Dataset) []string {
	out := make([]string, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, d.ID)
	}
	return out
}

func TestNewServiceRequiresDB(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
}

func TestNewServiceRejectsPageSizes(t *testing.T) {
	db, err := store.Open("sqlite", ":memory:", &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	_, err = NewService(db, WithPageSize(10, 5))
	assert.Error(t, err)
}

func TestCreateDataset(t *testing.T) {
	svc := newTestService(t)

	w := do(t, svc, http.MethodPost, "/datasets", map[string]interface{}{
		"name":     "gulf.sb",
		"path":     "/data/gulf.sb",
		"metadata": map[string]string{"cruise": "gulf_9"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	d := decode[store.Dataset](t, w)
	assert.Len(t, d.ID, 36)
	assert.Equal(t, store.StatusSubmitted, d.Status)
	assert.Equal(t, map[string]string{"cruise": "gulf_9"}, d.Metadata)
	assert.Equal(t, "http://example.com/datasets/"+d.ID, w.Header().Get("Location"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestCreateDatasetValidation(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		target string
	}{
		{"missing name", map[string]string{"path": "/x"}, http.StatusBadRequest, "name"},
		{"unknown status", map[string]string{"name": "x", "status": "lost"}, http.StatusBadRequest, "status"},
		{"unknown field", map[string]string{"name": "x", "owner": "me"}, http.StatusBadRequest, "body"},
		{"malformed json", `{"name":`, http.StatusBadRequest, "body"},
		{"empty body", "", http.StatusBadRequest, "body"},
		{"too large", `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, svc, http.MethodPost, "/datasets", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			body := decode[errorBody](t, w)
			assert.Equal(t, tt.target, body.Error.Target)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		})
	}
}

func TestGetDataset(t *testing.T) {
	svc := newTestService(t)
	seedService(t, svc)

	w := do(t, svc, http.MethodGet, "/datasets/d2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := decode[store.Dataset](t, w)
	assert.Equal(t, "pacific_2.sb", d.Name)
	assert.Equal(t, "120", d.Metadata["depth"])

	w = do(t, svc, http.MethodGet, "/datasets/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, string(ErrorCodeNotFound), body.Error.Code)
	assert.Equal(t, "Dataset 'missing' not found", body.Error.Message)
	assert.Equal(t, "id", body.Error.Target)
}

func TestListDatasets(t *testing.T) {
	svc := newTestService(t)
	seedService(t, svc)

	tests := []struct {
		expr string
		want []string
	}{
		{"", []string{"d1", "d2", "d3"}},
		{"investigators:Steven_Effler", []string{"d1"}},
		{"investigators:Steven*", []string{"d1", "d2"}},
		{"depth:[0 TO 100]", []string{"d1"}},
		{"depth:{* TO 15}", []string{"d3"}},
		{"status:validated OR status:canceled", []string{"d2", "d3"}},
		{"NOT status:canceled", []string{"d1", "d2"}},
		{"-status:canceled +group:ocean_optics", []string{"d1"}},
		{"arctic", []string{"d3"}},
		{"*.sb", []string{"d1", "d2"}},
		{"cruise:\"arctic sea run\"", []string{"d3"}},
		{"station:null", []string{"d1", "d2", "d3"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			w := do(t, svc, http.MethodGet, "/datasets?expr="+url.QueryEscape(tt.expr), nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			page := decode[pageBody](t, w)
			assert.Equal(t, tt.want, ids(page.Datasets))
			assert.Equal(t, int64(len(tt.want)), page.TotalCount)
			assert.Empty(t, page.NextLink)
		})
	}
}

func TestListDatasetsPaging(t *testing.T) {
	svc := newTestService(t)
	seedService(t, svc)

	w := do(t, svc, http.MethodGet, "/datasets?count=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[pageBody](t, w)
	assert.Equal(t, []string{"d1", "d2"}, ids(page.Datasets))
	assert.Equal(t, int64(3), page.TotalCount)
	assert.Equal(t, "http://example.com/datasets?count=2&offset=2", page.NextLink)

	w = do(t, svc, http.MethodGet, "/datasets?count=2&offset=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[pageBody](t, w)
	assert.Equal(t, []string{"d3"}, ids(page.Datasets))
	assert.Empty(t, page.NextLink)
}

func TestListDatasetsPagingValidation(t *testing.T) {
	svc := newTestService(t, WithPageSize(2, 10))

	tests := []struct {
		query  string
		target string
	}{
		{"offset=-1", "offset"},
		{"offset=x", "offset"},
		{"count=0", "count"},
		{"count=11", "count"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, svc, http.MethodGet, "/datasets?"+tt.query, nil)
			require.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.target, decode[errorBody](t, w).Error.Target)
		})
	}
}

func TestListDatasetsSyntaxError(t *testing.T) {
	svc := newTestService(t)

	w := do(t, svc, http.MethodGet, "/datasets?expr="+url.QueryEscape("a AND"), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	body := decode[errorBody](t, w)
	assert.Equal(t, string(ErrorCodeSyntaxError), body.Error.Code)
	assert.Equal(t, "Term missing after AND", body.Error.Message)
	assert.Equal(t, "expr", body.Error.Target)
	require.Len(t, body.Error.Details, 1)
	assert.Equal(t, "position 2", body.Error.Details[0].Message)
}

func TestListDatasetsUnscopedRange(t *testing.T) {
	svc := newTestService(t)

	w := do(t, svc, http.MethodGet, "/datasets?expr="+url.QueryEscape("(a OR b) [1 TO 2]"), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, string(ErrorCodeBadRequest), body.Error.Code)
	assert.Contains(t, body.Error.Message, "range term requires a field name")
}

func TestUpdateStatus(t *testing.T) {
	svc := newTestService(t)
	seedService(t, svc)

	w := do(t, svc, http.MethodPut, "/datasets/d1/status", map[string]string{"status": store.StatusPublished})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, store.StatusPublished, decode[store.Dataset](t, w).Status)

	w = do(t, svc, http.MethodGet, "/datasets?expr=status:published", nil)
	assert.Equal(t, []string{"d1"}, ids(decode[pageBody](t, w).Datasets))

	w = do(t, svc, http.MethodPut, "/datasets/d1/status", map[string]string{"status": "lost"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, svc, http.MethodPut, "/datasets/missing/status", map[string]string{"status": store.StatusPublished})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteDataset(t *testing.T) {
	svc := newTestService(t)
	seedService(t, svc)

	w := do(t, svc, http.MethodDelete, "/datasets/d2", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = do(t, svc, http.MethodGet, "/datasets/d2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, svc, http.MethodDelete, "/datasets/d2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, svc, http.MethodGet, "/datasets?expr=investigators:Steven*", nil)
	assert.Equal(t, []string{"d1"}, ids(decode[pageBody](t, w).Datasets))
}

func TestExplainQuery(t *testing.T) {
	svc := newTestService(t)

	w := do(t, svc, http.MethodGet, "/query?expr="+url.QueryEscape("depth:[0 TO 100] AND status:published"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Expr  string                 `json:"expr"`
		Query string                 `json:"query"`
		Mongo map[string]interface{} `json:"mongo"`
		SQL   string                 `json:"sql"`
		Args  []interface{}          `json:"args"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "depth:[0 TO 100] AND status:published", body.Expr)
	assert.Equal(t, "depth:[0 TO 100] AND status:published", body.Query)
	assert.Contains(t, body.Mongo, "$and")
	assert.Contains(t, body.SQL, `"datasets"."status" = ?`)
	assert.Contains(t, body.Args, "published")

	w = do(t, svc, http.MethodGet, "/query", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "expr", decode[errorBody](t, w).Error.Target)
}

func TestUnmatchedRoutes(t *testing.T) {
	svc := newTestService(t)

	w := do(t, svc, http.MethodGet, "/nowhere", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(ErrorCodeNotFound), decode[errorBody](t, w).Error.Code)

	w = do(t, svc, http.MethodPatch, "/datasets/d1", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, string(ErrorCodeMethodNotAllowed), decode[errorBody](t, w).Error.Code)
	assert.Contains(t, w.Header().Get("Allow"), http.MethodGet)
}

func TestServiceTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) }) //nolint:errcheck

	svc := newTestService(t, WithObservability(
		observability.WithTracerProvider(tp),
		observability.WithDetailedDBTracing(),
	))
	seedService(t, svc)

	w := do(t, svc, http.MethodGet, "/datasets?expr=cruise:baltic_1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	names := map[string]bool{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}
	for _, want := range []string{
		"ocdb.request",
		"ocdb." + observability.OpListDatasets,
		"ocdb.query.parse",
		"ocdb.query.compile",
		"db.query",
	} {
		assert.True(t, names[want], "missing span %q in %v", want, names)
	}
}

func TestServiceServerTiming(t *testing.T) {
	svc := newTestService(t, WithObservability(observability.WithServerTiming()))
	seedService(t, svc)

	w := do(t, svc, http.MethodGet, "/datasets?expr=arctic", nil)
	require.Equal(t, http.StatusOK, w.Code)

	header := w.Header().Get("Server-Timing")
	assert.Contains(t, header, "parse")
	assert.Contains(t, header, "db")
}

func TestGetDatasetConditional(t *testing.T) {
	svc := newTestService(t)
	seedService(t, svc)

	w := do(t, svc, http.MethodGet, "/datasets/d1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)

	req := httptest.NewRequest(http.MethodGet, "/datasets/d1", nil)
	req.Header.Set("If-None-Match", tag)
	w = httptest.NewRecorder()
	svc.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestUpdateStatusIfMatch(t *testing.T) {
	svc := newTestService(t)
	seedService(t, svc)

	tag := do(t, svc, http.MethodGet, "/datasets/d1", nil).Header().Get("ETag")

	put := func(ifMatch string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/datasets/d1/status", strings.NewReader(`{"status":"validated"}`))
		req.Header.Set("If-Match", ifMatch)
		w := httptest.NewRecorder()
		svc.ServeHTTP(w, req)
		return w
	}

	w := put(`W/"stale"`)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, string(ErrorCodePreconditionFailed), decode[errorBody](t, w).Error.Code)

	w = put(tag)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEqual(t, tag, w.Header().Get("ETag"))

	// the old tag no longer matches
	w = put(tag)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestDeleteDatasetIfMatch(t *testing.T) {
	svc := newTestService(t)
	seedService(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/datasets/d1", nil)
	req.Header.Set("If-Match", `W/"stale"`)
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/datasets/d1", nil)
	req.Header.Set("If-Match", "*")
	w = httptest.NewRecorder()
	svc.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCreateDatasetPreferMinimal(t *testing.T) {
	svc := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/datasets", strings.NewReader(`{"id":"m1","name":"m.sb"}`))
	req.Header.Set("Prefer", "return=minimal")
	w := httptest.NewRecorder()
	svc.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "return=minimal", w.Header().Get("Preference-Applied"))
	assert.Equal(t, "http://example.com/datasets/m1", w.Header().Get("Location"))
	assert.NotEmpty(t, w.Header().Get("ETag"))

	assert.Equal(t, http.StatusOK, do(t, svc, http.MethodGet, "/datasets/m1", nil).Code)
}
