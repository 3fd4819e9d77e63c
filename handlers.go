package ocdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nlstn/go-ocdb/internal/etag"
	"github.com/nlstn/go-ocdb/internal/filter"
	"github.com/nlstn/go-ocdb/internal/observability"
	"github.com/nlstn/go-ocdb/internal/preference"
	"github.com/nlstn/go-ocdb/internal/query"
	"github.com/nlstn/go-ocdb/internal/response"
	"github.com/nlstn/go-ocdb/internal/store"
)

// maxBodyBytes limits the size of dataset request bodies.
const maxBodyBytes = 1 << 20

// datasetPage is the body of a dataset search response.
type datasetPage struct {
	TotalCount int64           `json:"total_count"`
	Datasets   []store.Dataset `json:"datasets"`
	NextLink   string          `json:"next_link,omitempty"`
}

// createDatasetRequest is the body of POST /datasets.
type createDatasetRequest struct {
	ID           string            `json:"id"`
	SubmissionID *string           `json:"submission_id"`
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	Status       string            `json:"status"`
	Group        string            `json:"group"`
	Metadata     map[string]string `json:"metadata"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// explainResponse is the body of GET /query.
type explainResponse struct {
	Expr  string          `json:"expr"`
	Query string          `json:"query"`
	Mongo json.RawMessage `json:"mongo"`
	SQL   string          `json:"sql"`
	Args  []interface{}   `json:"args"`
}

// compiledQuery is an expression turned into a backend filter.
type compiledQuery struct {
	expr   string
	query  query.Query
	filter filter.Filter
}

// compileExpr parses and lowers expr. A blank expr yields a nil filter.
func (s *Service) compileExpr(ctx context.Context, expr string) (*compiledQuery, error) {
	tracer := s.obs.Tracer()
	timing := observability.StartServerTimingWithDesc(ctx, "parse", "parse and compile query")
	defer timing.Stop()

	start := time.Now()
	parseCtx, parseSpan := tracer.StartParse(ctx)
	q, err := query.CachedParse(expr)
	if err != nil {
		tracer.RecordError(parseSpan, err)
		parseSpan.End()
		s.obs.Metrics().RecordParse(ctx, time.Since(start), false)
		return nil, err
	}
	parseSpan.End()

	_, compileSpan := tracer.StartCompile(parseCtx)
	f, err := filter.Compile(q)
	if err != nil {
		tracer.RecordError(compileSpan, err)
		compileSpan.End()
		s.obs.Metrics().RecordParse(ctx, time.Since(start), false)
		return nil, err
	}
	compileSpan.End()
	s.obs.Metrics().RecordParse(ctx, time.Since(start), true)

	return &compiledQuery{expr: expr, query: q, filter: f}, nil
}

// pagingParams reads the offset and count query parameters.
func (s *Service) pagingParams(r *http.Request) (offset, count int, err error) {
	params := r.URL.Query()
	count = s.defaultPageSize

	if raw := params.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, validationError("offset", "offset must be a non-negative integer, got '%s'", raw)
		}
	}
	if raw := params.Get("count"); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil || count <= 0 {
			return 0, 0, validationError("count", "count must be a positive integer, got '%s'", raw)
		}
		if count > s.maxPageSize {
			return 0, 0, validationError("count", "count must not exceed %d", s.maxPageSize)
		}
	}
	return offset, count, nil
}

func (s *Service) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.obs.Tracer().StartDatasetOperation(r.Context(), observability.OpListDatasets, "")
	defer span.End()

	offset, count, err := s.pagingParams(r)
	if err != nil {
		s.writeError(ctx, w, observability.OpListDatasets, err)
		return
	}

	expr := r.URL.Query().Get("expr")
	compiled, err := s.compileExpr(ctx, expr)
	if err != nil {
		s.writeError(ctx, w, observability.OpListDatasets, err)
		return
	}

	if s.obs.QueryTracingEnabled() {
		var rendered string
		if compiled.filter != nil {
			rendered, _ = filter.ToExtJSON(compiled.filter)
		}
		s.obs.Tracer().AddQueryAttributes(span, expr, rendered, offset, count)
	}

	datasets, total, err := s.store.Find(ctx, store.FindOptions{
		Filter: compiled.filter,
		Offset: offset,
		Count:  count,
	})
	if err != nil {
		s.writeError(ctx, w, observability.OpListDatasets, err)
		return
	}

	span.SetAttributes(
		observability.ResultCountAttr(int64(len(datasets))),
		observability.TotalCountAttr(total),
	)
	s.obs.Metrics().RecordResultCount(ctx, int64(len(datasets)))
	observability.LoggerWithTrace(ctx, s.logger).Debug("datasets found",
		slog.String("expr", expr),
		slog.Int(observability.LogFieldResultCount, len(datasets)),
		slog.Int64("total", total),
	)

	page := datasetPage{TotalCount: total, Datasets: datasets}
	if next := offset + len(datasets); int64(next) < total {
		page.NextLink = response.BuildNextLink(r, next)
	}
	s.writeJSON(ctx, w, http.StatusOK, page)
}

func (s *Service) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, span := s.obs.Tracer().StartDatasetOperation(r.Context(), observability.OpGetDataset, id)
	defer span.End()

	d, err := s.store.Get(ctx, id)
	if err != nil {
		s.writeError(ctx, w, observability.OpGetDataset, datasetError(id, err))
		return
	}

	tag := etag.Generate(d)
	w.Header().Set("ETag", tag)
	if !etag.NoneMatch(r.Header.Get("If-None-Match"), tag) {
		observability.FlushDBTiming(ctx)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, d)
}

func (s *Service) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.obs.Tracer().StartDatasetOperation(r.Context(), observability.OpCreateDataset, "")
	defer span.End()

	var req createDatasetRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(ctx, w, observability.OpCreateDataset, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(ctx, w, observability.OpCreateDataset, validationError("name", "name is required"))
		return
	}
	if req.Status != "" && !store.IsValidStatus(req.Status) {
		s.writeError(ctx, w, observability.OpCreateDataset, validationError("status", "unknown status '%s'", req.Status))
		return
	}

	d := &store.Dataset{
		ID:           req.ID,
		SubmissionID: req.SubmissionID,
		Name:         req.Name,
		Path:         req.Path,
		Status:       req.Status,
		Group:        req.Group,
		Metadata:     req.Metadata,
	}
	if err := s.store.Insert(ctx, d); err != nil {
		s.writeError(ctx, w, observability.OpCreateDataset, err)
		return
	}
	span.SetAttributes(observability.DatasetIDAttr(d.ID))

	stored, err := s.store.Get(ctx, d.ID)
	if err != nil {
		s.writeError(ctx, w, observability.OpCreateDataset, err)
		return
	}

	observability.LoggerWithTrace(ctx, s.logger).Info("dataset created",
		slog.String(observability.LogFieldDatasetID, stored.ID),
		slog.String("name", stored.Name),
	)
	w.Header().Set("Location", response.BuildBaseURL(r)+"/datasets/"+stored.ID)
	s.writeDataset(ctx, w, r, http.StatusCreated, stored)
}

func (s *Service) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, span := s.obs.Tracer().StartDatasetOperation(r.Context(), observability.OpUpdateStatus, id)
	defer span.End()

	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(ctx, w, observability.OpUpdateStatus, err)
		return
	}
	if !store.IsValidStatus(req.Status) {
		s.writeError(ctx, w, observability.OpUpdateStatus, validationError("status", "unknown status '%s'", req.Status))
		return
	}
	span.SetAttributes(observability.StatusAttr(req.Status))

	if err := s.checkIfMatch(ctx, r, id); err != nil {
		s.writeError(ctx, w, observability.OpUpdateStatus, err)
		return
	}
	if err := s.store.UpdateStatus(ctx, id, req.Status); err != nil {
		s.writeError(ctx, w, observability.OpUpdateStatus, datasetError(id, err))
		return
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		s.writeError(ctx, w, observability.OpUpdateStatus, datasetError(id, err))
		return
	}
	s.writeDataset(ctx, w, r, http.StatusOK, d)
}

func (s *Service) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx, span := s.obs.Tracer().StartDatasetOperation(r.Context(), observability.OpDeleteDataset, id)
	defer span.End()

	if err := s.checkIfMatch(ctx, r, id); err != nil {
		s.writeError(ctx, w, observability.OpDeleteDataset, err)
		return
	}
	if err := s.store.Delete(ctx, id); err != nil {
		s.writeError(ctx, w, observability.OpDeleteDataset, datasetError(id, err))
		return
	}

	observability.LoggerWithTrace(ctx, s.logger).Info("dataset deleted",
		slog.String(observability.LogFieldDatasetID, id),
	)
	observability.FlushDBTiming(ctx)
	w.WriteHeader(http.StatusNoContent)
}

// handleExplainQuery shows how an expression is parsed and what it is
// lowered to, without touching any dataset.
func (s *Service) handleExplainQuery(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.obs.Tracer().StartDatasetOperation(r.Context(), observability.OpExplainQuery, "")
	defer span.End()

	expr := r.URL.Query().Get("expr")
	if strings.TrimSpace(expr) == "" {
		s.writeError(ctx, w, observability.OpExplainQuery, validationError("expr", "expr is required"))
		return
	}

	compiled, err := s.compileExpr(ctx, expr)
	if err != nil {
		s.writeError(ctx, w, observability.OpExplainQuery, err)
		return
	}
	if compiled.query == nil {
		s.writeError(ctx, w, observability.OpExplainQuery, validationError("expr", "expr contains no terms"))
		return
	}

	mongo, err := filter.ToExtJSON(compiled.filter)
	if err != nil {
		s.writeError(ctx, w, observability.OpExplainQuery, err)
		return
	}
	sql, args := s.store.Where(compiled.filter)
	if args == nil {
		args = []interface{}{}
	}

	s.writeJSON(ctx, w, http.StatusOK, explainResponse{
		Expr:  expr,
		Query: compiled.query.String(),
		Mongo: json.RawMessage(mongo),
		SQL:   sql,
		Args:  args,
	})
}

// decodeBody decodes a JSON request body into v. Unknown fields are
// rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &ServiceError{
				StatusCode: http.StatusRequestEntityTooLarge,
				Code:       ErrorCodeBadRequest,
				Message:    fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
				Err:        ErrValidationError,
			}
		case errors.Is(err, io.EOF):
			return validationError("body", "request body is empty")
		}
		return validationError("body", "invalid JSON body: %v", err)
	}
	return nil
}

// checkIfMatch fails with ErrPreconditionFailed when the request carries an
// If-Match header that does not match the stored dataset.
func (s *Service) checkIfMatch(ctx context.Context, r *http.Request, id string) error {
	ifMatch := r.Header.Get("If-Match")
	if ifMatch == "" {
		return nil
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return datasetError(id, err)
	}
	if !etag.Match(ifMatch, etag.Generate(d)) {
		return &ServiceError{
			StatusCode: http.StatusPreconditionFailed,
			Code:       ErrorCodePreconditionFailed,
			Message:    fmt.Sprintf("Dataset '%s' has been modified", id),
			Target:     "If-Match",
			Err:        ErrPreconditionFailed,
		}
	}
	return nil
}

// writeDataset answers a write with the stored dataset and its ETag, or
// with no content if the client prefers return=minimal.
func (s *Service) writeDataset(ctx context.Context, w http.ResponseWriter, r *http.Request, status int, d *store.Dataset) {
	w.Header().Set("ETag", etag.Generate(d))

	pref := preference.ParsePrefer(r)
	if applied := pref.Applied(); applied != "" {
		w.Header().Set("Preference-Applied", applied)
	}
	if !pref.ShouldReturnContent() {
		observability.FlushDBTiming(ctx)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(ctx, w, status, d)
}

// datasetError names the requested dataset in not found errors.
func datasetError(id string, err error) error {
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return &ServiceError{
		StatusCode: http.StatusNotFound,
		Code:       ErrorCodeNotFound,
		Message:    fmt.Sprintf("Dataset '%s' not found", id),
		Target:     "id",
		Err:        err,
	}
}

func (s *Service) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	observability.FlushDBTiming(ctx)
	if err := response.WriteJSON(w, status, v); err != nil {
		observability.LoggerWithTrace(ctx, s.logger).Error("failed to write response",
			slog.String(observability.LogFieldError, err.Error()),
		)
	}
}

// writeError renders err as an error envelope and records it.
func (s *Service) writeError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	se := toServiceError(err)

	s.obs.Tracer().RecordError(trace.SpanFromContext(ctx), err)
	s.obs.Metrics().RecordError(ctx, operation, string(se.Code))

	logger := observability.LoggerWithTrace(ctx, s.logger)
	if se.StatusCode >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String(observability.LogFieldOperation, operation),
			slog.String(observability.LogFieldError, err.Error()),
		)
	} else {
		logger.Debug("request rejected",
			slog.String(observability.LogFieldOperation, operation),
			slog.String(observability.LogFieldError, err.Error()),
		)
	}

	body := &response.Error{
		Code:    string(se.Code),
		Message: se.Message,
		Target:  se.Target,
	}
	for _, d := range se.Details {
		body.Details = append(body.Details, response.ErrorDetail{
			Code:    d.Code,
			Target:  d.Target,
			Message: d.Message,
		})
	}

	observability.FlushDBTiming(ctx)
	if writeErr := response.WriteErrorBody(w, se.StatusCode, body); writeErr != nil {
		logger.Error("failed to write error response",
			slog.String(observability.LogFieldError, writeErr.Error()),
		)
	}
}
