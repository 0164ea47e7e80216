package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/log"
	"receipts/internal/recognize"
	"receipts/internal/services"
	"receipts/internal/storage"
)

type fakeRecognizer struct {
	ext recognize.Extraction
	err error
}

func (f *fakeRecognizer) Recognize(context.Context, recognize.Image) (recognize.Extraction, error) {
	return f.ext, f.err
}

func (f *fakeRecognizer) Model() string { return "fake" }

func quietLogger() *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Output = &bytes.Buffer{}
	return log.New(cfg)
}

func newTestServer(t *testing.T, rec recognize.Recognizer, opts Options) *Server {
	t.Helper()
	creds := storage.Credentials{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "receipts.db")}
	require.NoError(t, storage.RunMigrations(creds))

	registry := storage.NewRegistry(nil)
	t.Cleanup(func() { registry.Close() })
	repo, err := storage.NewReceiptRepository(registry, creds, nil, false)
	require.NoError(t, err)

	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	srv, err := NewServer(":0", services.NewReceiptService(repo, rec, nil), opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		part, err := mw.CreateFormFile("receipt", "receipt.png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20))))
	return buf.Bytes()
}

func lunchForm() url.Values {
	return url.Values{
		"transaction_time": {"2025-02-15 12:30:00"},
		"expense_amount":   {"99.99"},
		"income_amount":    {""},
		"transaction_app":  {"Store"},
		"category":         {"Food"},
	}
}

func TestIndexAndHealth(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `name="receipt"`)
	assert.Contains(t, rr.Body.String(), "暂无记录")
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"), path)
	}

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/static/style.css", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "max-age=3600")

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/vnd.microsoft.icon", rr.Header().Get("Content-Type"))

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpload(t *testing.T) {
	tests := []struct {
		name     string
		rec      recognize.Recognizer
		data     []byte
		status   int
		contains []string
	}{
		{
			name:     "recognized",
			rec:      &fakeRecognizer{ext: recognize.Extraction{ExpenseAmount: "12.50", TransactionApp: "拼多多"}},
			data:     testPNG(t),
			status:   http.StatusOK,
			contains: []string{`value="12.50"`, "拼多多", "data:image/png;base64,", `action="/save"`},
		},
		{
			name:     "malformed reply",
			rec:      &fakeRecognizer{err: recognize.ErrMalformedReply},
			data:     testPNG(t),
			status:   http.StatusOK,
			contains: []string{msgMalformed, "data:image/png;base64,"},
		},
		{
			name:     "model unavailable",
			rec:      &fakeRecognizer{err: errors.New("503 from upstream")},
			data:     testPNG(t),
			status:   http.StatusBadGateway,
			contains: []string{msgRecognizeFail},
		},
		{
			name:     "no recognizer",
			data:     testPNG(t),
			status:   http.StatusBadGateway,
			contains: []string{msgRecognizeFail},
		},
		{
			name:     "not an image",
			rec:      &fakeRecognizer{},
			data:     []byte("plain text"),
			status:   http.StatusUnsupportedMediaType,
			contains: []string{msgUnsupported},
		},
		{
			name:     "missing file",
			rec:      &fakeRecognizer{},
			status:   http.StatusBadRequest,
			contains: []string{msgNoFile},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.rec, Options{})
			rr := serve(srv, uploadRequest(t, tt.data))
			assert.Equal(t, tt.status, rr.Code)
			for _, s := range tt.contains {
				assert.Contains(t, rr.Body.String(), s)
			}
		})
	}
}

func TestUpload_TooLarge(t *testing.T) {
	srv := newTestServer(t, &fakeRecognizer{}, Options{UploadMaxBytes: 128})
	rr := serve(srv, uploadRequest(t, bytes.Repeat([]byte{0xff}, 4096)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestSaveAndEdit(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	rr := serve(srv, postForm("/save", lunchForm()))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), msgSaved)

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rr.Body.String(), "Store")
	assert.Contains(t, rr.Body.String(), "/edit?id=1")

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/edit?id=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `value="99.99"`)
	assert.Contains(t, rr.Body.String(), `action="/edit"`)
	assert.Contains(t, rr.Body.String(), `name="id" value="1"`)

	form := lunchForm()
	form.Set("id", "1")
	form.Set("memo", "updated")
	rr = serve(srv, postForm("/edit", form))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), msgEdited)

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/receipts/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "updated", got["memo"])
	assert.Equal(t, "99.99", got["expense_amount"])
	assert.Equal(t, "", got["income_amount"])
}

func TestEditErrors(t *testing.T) {
	srv := newTestServer(t, nil, Options{})

	tests := []struct {
		name    string
		req     *http.Request
		status  int
		message string
	}{
		{"non-numeric id", httptest.NewRequest(http.MethodGet, "/edit?id=abc", nil), http.StatusBadRequest, msgInvalidID},
		{"zero id", httptest.NewRequest(http.MethodGet, "/edit?id=0", nil), http.StatusBadRequest, msgInvalidID},
		{"missing record", httptest.NewRequest(http.MethodGet, "/edit?id=99", nil), http.StatusNotFound, msgNotFound},
		{"edit missing record", postForm("/edit", func() url.Values { f := lunchForm(); f.Set("id", "99"); return f }()), http.StatusNotFound, msgNotFound},
		{"edit without id", postForm("/edit", lunchForm()), http.StatusBadRequest, msgInvalidID},
		{"save bad amount", postForm("/save", url.Values{"transaction_time": {"2025-02-15 12:30:00"}, "expense_amount": {"lots"}}), http.StatusUnprocessableEntity, "invalid amount"},
		{"save without time", postForm("/save", url.Values{"expense_amount": {"1"}}), http.StatusUnprocessableEntity, "transaction time is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(srv, tt.req)
			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.message)
			assert.Contains(t, rr.Body.String(), linkHome)
		})
	}
}

func TestAPI(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(srv, postForm("/save", lunchForm())).Code)
	}

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/receipts?page=0", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var page apiPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Receipts, 2)
	assert.False(t, page.HasNext)
	assert.Equal(t, "199.98", page.Summary.Expense)
	assert.Equal(t, "-199.98", page.Summary.Net)
	require.Len(t, page.Summary.ByCategory, 1)
	assert.Equal(t, "Food", page.Summary.ByCategory[0].Name)

	patch := func(id, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/receipts/"+id, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return serve(srv, req)
	}

	rr = patch("2", `{"category": "Travel", "memo": "taxi"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "Travel", got["category"])
	assert.Equal(t, "taxi", got["memo"])
	assert.Equal(t, "99.99", got["expense_amount"], "untouched columns keep their value")

	assert.Equal(t, http.StatusUnprocessableEntity, patch("2", `{"colour": "red"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, patch("2", `{}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, patch("2", `{"expense_amount": "x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, patch("2", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, patch("abc", `{"memo": "x"}`).Code)
	assert.Equal(t, http.StatusNotFound, patch("99", `{"memo": "x"}`).Code)

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/receipts/99", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "receipt not found")
}

func TestRateLimitOnPost(t *testing.T) {
	srv := newTestServer(t, nil, Options{RateLimit: 1})

	first := serve(srv, postForm("/save", lunchForm()))
	assert.Equal(t, http.StatusOK, first.Code)

	second := serve(srv, postForm("/save", lunchForm()))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), msgRateLimited)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(srv, httptest.NewRequest(http.MethodGet, "/", nil)).Code, "GET is not limited")
}

func TestSuspiciousRequestsRejected(t *testing.T) {
	srv := newTestServer(t, nil, Options{})
	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/.env", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.EqualValues(t, 1, srv.detector.SuspiciousCount())
}

func TestPageParam(t *testing.T) {
	assert.Equal(t, "3", pageParam(url.Values{"num": {"3"}}))
	assert.Equal(t, "2", pageParam(url.Values{"page": {"2"}, "num": {"5"}}))
	assert.Empty(t, pageParam(url.Values{}))

	srv := newTestServer(t, nil, Options{})
	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/?num=3", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "第 3 页")
}

func TestParsePage(t *testing.T) {
	assert.Equal(t, 1, parsePage(""))
	assert.Equal(t, 1, parsePage("abc"))
	assert.Equal(t, 1, parsePage("-3"))
	assert.Equal(t, 4, parsePage(" 4 "))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(services.ErrNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(services.ErrNothingToUpdate))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk on fire")))
}
