package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"safeguard/internal/engine"
	"safeguard/internal/metrics"
	"safeguard/internal/model"
)

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var errBadJSON = errors.New("invalid JSON body")

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return nil, model.InvalidField("body", nil, err.Error())
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, model.InvalidField("body", nil, "empty body")
	}
	return body, nil
}

// decodeBody reads one JSON document into v. Unknown fields are ignored.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", model.ErrValidation, errBadJSON)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrUnknownCategory),
		errors.Is(err, model.ErrZoneGeometryInvalid):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrDuplicate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError maps typed failures to status codes. Schema mismatches mean a
// broken artifact, so they are logged at error level.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch {
	case errors.Is(err, model.ErrFeatureSchemaMismatch):
		s.logger.Error("feature schema mismatch", "path", r.URL.Path, "error", err)
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", "path", r.URL.Path, "kind", metrics.ErrorKind(err), "error", err)
	default:
		s.logger.Debug("request rejected", "path", r.URL.Path, "kind", metrics.ErrorKind(err), "error", err)
	}
	body := errorBody{Error: err.Error()}
	switch {
	case errors.Is(err, errBadJSON):
		body.Error = errBadJSON.Error()
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrUnknownCategory):
		body.Field = model.FieldOf(err)
	}
	writeJSON(w, status, body)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateRequest reports the first failing field, in declaration order,
// as a typed validation error.
func validateRequest(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.InvalidField("body", nil, err.Error())
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return model.MissingField(fe.Field())
	}
	return model.InvalidField(fe.Field(), fe.Value(), fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param()))
}
