// Package handlers exposes the scheduling core's operations over
// HTTP/JSON. Each handler decodes and validates its request, delegates
// to a service, and maps service errors onto status codes through the
// shared error taxonomy.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/gravelroot/dispatch-core/internal/apperr"
	"github.com/gravelroot/dispatch-core/internal/middleware"
)

const dateLayout = "2006-01-02"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	resp := apperr.ToResponse(err)
	if resp.Code >= http.StatusInternalServerError {
		logger.Errorw("request failed", "error", err)
	}
	writeJSON(w, resp.Code, resp)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validationf("malformed request body: %v", err)
	}
	return nil
}

// parseDate parses a "YYYY-MM-DD" field value.
func parseDate(value, field string) (time.Time, error) {
	if value == "" {
		return time.Time{}, apperr.Validationf("%s is required", field)
	}
	d, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, apperr.Validationf("%s must be a YYYY-MM-DD date", field)
	}
	return d, nil
}

// dateQuery parses the ?date= query parameter.
func dateQuery(r *http.Request) (time.Time, error) {
	return parseDate(r.URL.Query().Get("date"), "date")
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw, ok := mux.Vars(r)[name]
	if !ok {
		return uuid.Nil, apperr.Validationf("missing %s path parameter", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validationf("%s is not a valid id", name)
	}
	return id, nil
}

func muxVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func queryUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, apperr.Validationf("%s query parameter is required", name)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validationf("%s is not a valid id", name)
	}
	return id, nil
}

var errNoTenant = errors.New("tenant context missing")

func tenantFrom(r *http.Request) (uuid.UUID, error) {
	id, ok := r.Context().Value(middleware.TenantIDKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, apperr.Validation(errNoTenant.Error())
	}
	return id, nil
}

func actorFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(middleware.StaffIDKey).(uuid.UUID)
	return id
}

// solveBudget converts an optional timeout_seconds field to a duration;
// zero means the solver default. The solver clamps it to its bounds.
func solveBudget(timeoutSeconds *int) time.Duration {
	if timeoutSeconds == nil {
		return 0
	}
	return time.Duration(*timeoutSeconds) * time.Second
}
