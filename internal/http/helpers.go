package http

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"receipts/internal/core"
	"receipts/internal/services"
)

// parsePage reads a 1-based page number. Missing or invalid values are page 1.
// pageParam reads the page number from ?page=, falling back to the older ?num=.
func pageParam(q url.Values) string {
	if q.Has("page") {
		return q.Get("page")
	}
	return q.Get("num")
}

func parsePage(v string) int {
	page, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// formValues collects the receipt columns from a parsed form. Absent and
// blank fields come back as "", which the record model stores as NULL.
func formValues(r *http.Request) map[string]string {
	values := make(map[string]string, len(core.Columns)+1)
	values[core.ColID] = sanitizeInput(r.PostForm.Get(core.ColID))
	for _, col := range core.Columns {
		values[col] = sanitizeInput(r.PostForm.Get(col))
	}
	return values
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

var validationErrors = []error{
	core.ErrMissingTime,
	core.ErrInvalidTime,
	core.ErrInvalidAmount,
	core.ErrFieldTooLong,
	core.ErrUnknownColumn,
	services.ErrNothingToUpdate,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case isValidationError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func isImageDataURI(s string) bool {
	return strings.HasPrefix(s, "data:image/") && strings.Contains(s, ";base64,")
}

// executeTemplate renders into a buffer so a failing template never leaves a
// half-written page behind.
func executeTemplate(t *template.Template, name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
