package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/replydesk/replydesk/internal/db"
	"github.com/replydesk/replydesk/internal/logic/keyword"
	"github.com/replydesk/replydesk/internal/logging"
	"github.com/replydesk/replydesk/internal/workerhub"
)

// ErrBadRequest marks a request the client must fix.
var ErrBadRequest = errors.New("bad request")

// invalid lists the sentinels answered with 400.
var invalid = []error{ErrBadRequest, keyword.ErrInvalid}

// Parse parses the request into the given struct.
// Supports:
// - JSON body (for POST/PUT/PATCH)
// - Path parameters via `path:"name"` struct tag (using chi.URLParam)
// - Query parameters via `form:"name"` struct tag
func Parse(r *http.Request, v any) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return nil
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}
		structField := typ.Field(i)

		if pathTag := structField.Tag.Get("path"); pathTag != "" {
			if pathVal := chi.URLParam(r, pathTag); pathVal != "" {
				setFieldValue(field, pathVal)
			}
		}
		if formTag := structField.Tag.Get("form"); formTag != "" {
			if queryVal := r.URL.Query().Get(formTag); queryVal != "" {
				setFieldValue(field, queryVal)
			}
		}
	}

	if r.Body != nil && r.ContentLength > 0 {
		contentType := r.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "application/json") || contentType == "" {
			if err := json.NewDecoder(r.Body).Decode(v); err != nil {
				return fmt.Errorf("%w: %v", ErrBadRequest, err)
			}
		}
	}
	return nil
}

// setFieldValue sets a struct field value from a string
func setFieldValue(field reflect.Value, value string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(i)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Float32, reflect.Float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			field.SetFloat(f)
		}
	}
}

// PathVar returns a path variable from the request (chi.URLParam wrapper)
func PathVar(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// Response is the envelope every API answer uses.
type Response struct {
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	Message  string `json:"message,omitempty"`
	Total    *int64 `json:"total,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// OkJSON writes {success: true, data}.
func OkJSON(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// Ok writes {success: true}.
func Ok(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, Response{Success: true})
}

// OkPage writes a paginated list with its totals next to the data.
func OkPage(w http.ResponseWriter, data any, total int64, page, pageSize int) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data, Total: &total, Page: page, PageSize: pageSize})
}

// Error maps err to a status: validation failures are 400 with their
// message, missing rows 404, a missing worker 503. Anything else is logged and
// answered with a generic 500.
func Error(w http.ResponseWriter, err error) {
	for _, target := range invalid {
		if errors.Is(err, target) {
			ErrorWithCode(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		NotFound(w, "")
		return
	}
	if errors.Is(err, workerhub.ErrNotConnected) {
		ErrorWithCode(w, http.StatusServiceUnavailable, "worker not connected")
		return
	}
	logging.Errorf("[http] %v", err)
	InternalError(w, "")
}

// ErrorWithCode writes {success: false, message} with a specific status code
func ErrorWithCode(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, Response{Success: false, Message: message})
}

// NotFound writes a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	ErrorWithCode(w, http.StatusNotFound, message)
}

// InternalError writes a 500 internal server error response
func InternalError(w http.ResponseWriter, message string) {
	if message == "" {
		message = "internal server error"
	}
	ErrorWithCode(w, http.StatusInternalServerError, message)
}
