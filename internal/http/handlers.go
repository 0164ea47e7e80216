package http

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/recognize"
	"receipts/internal/services"
)

// Hint page messages.
const (
	msgSaved          = "保存成功"
	msgEdited         = "编辑成功"
	msgInvalidID      = "ID 格式错误"
	msgNotFound       = "没有查到相关记录"
	msgNoFile         = "请选择要上传的图片"
	msgTooLarge       = "图片过大"
	msgUnsupported    = "不支持的图片格式"
	msgRecognizeFail  = "识别服务暂不可用，请稍后再试"
	msgMalformed      = "未能识别图片内容，请手动填写"
	msgRateLimited    = "请求过于频繁，请稍后再试"
	msgInternal       = "服务器错误，请稍后再试"
	linkHome          = "返回首页"
	uploadField       = "receipt"
	readinessDeadline = 5 * time.Second
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports ready once the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessDeadline)
	defer cancel()

	checks := map[string]string{"templates": "ok", "database": "ok"}
	if err := s.svc.Ready(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		checks["database"] = "failed: " + err.Error()
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}

type indexView struct {
	Page     services.Page
	PrevPage int
	NextPage int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := s.svc.List(r.Context(), parsePage(pageParam(r.URL.Query())))
	if err != nil {
		s.renderError(w, r, err, log.OpList)
		return
	}
	view := indexView{Page: page}
	if page.Number > 1 {
		view.PrevPage = page.Number - 1
	}
	if page.HasNext {
		view.NextPage = page.Number + 1
	}
	s.render(w, r, http.StatusOK, "index.html", view)
}

// handleUpload reads the uploaded photo and shows the extraction on the edit
// form. Nothing is stored until the user confirms with /save.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, s.uploadMax)
	file, _, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.renderHint(w, r, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		s.renderHint(w, r, http.StatusBadRequest, msgNoFile)
		return
	}
	defer file.Close()

	upload, err := io.ReadAll(file)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read upload", log.FieldError, err)
		s.renderHint(w, r, http.StatusBadRequest, msgNoFile)
		return
	}
	if len(upload) == 0 {
		s.renderHint(w, r, http.StatusBadRequest, msgNoFile)
		return
	}
	logger.InfoContext(ctx, "Receipt uploaded", log.FieldImageBytes, len(upload))

	ext, err := s.svc.Recognize(ctx, upload)
	switch {
	case err == nil:
		s.render(w, r, http.StatusOK, "edit.html", newEditView("/save", 0, ext.Values(), ext.PreviewImage))
	case errors.Is(err, recognize.ErrMalformedReply):
		view := newEditView("/save", 0, nil, ext.PreviewImage)
		view.Warning = msgMalformed
		s.render(w, r, http.StatusOK, "edit.html", view)
	case errors.Is(err, recognize.ErrUnsupportedImage):
		s.renderHint(w, r, http.StatusUnsupportedMediaType, msgUnsupported)
	default:
		logger.ErrorContext(ctx, "Recognition unavailable", log.FieldOperation, log.OpRecognize, log.FieldError, err)
		s.renderHint(w, r, http.StatusBadGateway, msgRecognizeFail)
	}
}

func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseID(r.URL.Query().Get("id"))
	if err != nil {
		s.renderHint(w, r, http.StatusBadRequest, msgInvalidID)
		return
	}
	rc, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err, log.OpRead)
		return
	}
	s.render(w, r, http.StatusOK, "edit.html", newEditView("/edit", rc.ID, rc.Values(), ""))
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderHint(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id, err := core.ParseID(r.PostForm.Get(core.ColID))
	if err != nil {
		s.renderHint(w, r, http.StatusBadRequest, msgInvalidID)
		return
	}
	rc, err := core.ParseReceipt(formValues(r))
	if err != nil {
		s.renderError(w, r, err, log.OpUpdate)
		return
	}
	rc.ID = id

	affected, err := s.svc.Edit(r.Context(), rc)
	if err != nil {
		s.renderError(w, r, err, log.OpUpdate)
		return
	}
	if affected == 0 {
		s.renderHint(w, r, http.StatusNotFound, msgNotFound)
		return
	}
	s.logSaved(r, log.OpUpdate, rc)
	s.renderHint(w, r, http.StatusOK, msgEdited)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderHint(w, r, http.StatusBadRequest, err.Error())
		return
	}
	values := formValues(r)
	delete(values, core.ColID)
	rc, err := core.ParseReceipt(values)
	if err != nil {
		s.renderError(w, r, err, log.OpCreate)
		return
	}

	rc.ID, err = s.svc.Save(r.Context(), rc)
	if err != nil {
		s.renderError(w, r, err, log.OpCreate)
		return
	}
	s.logSaved(r, log.OpCreate, rc)
	s.renderHint(w, r, http.StatusOK, msgSaved)
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	s.renderHint(w, r, http.StatusTooManyRequests, msgRateLimited)
}

type formField struct {
	Name  string
	Label string
	Type  string
	Value string
}

type editView struct {
	Action  string
	ID      int64
	Fields  []formField
	Preview template.URL
	Warning string
}

var fieldLabels = map[string]string{
	core.ColTransactionTime:   "交易时间",
	core.ColIncomeAmount:      "收入金额",
	core.ColExpenseAmount:     "支出金额",
	core.ColTransactionApp:    "消费的应用",
	core.ColPaymentPlatform:   "支付平台",
	core.ColFinancialTerminal: "金融终端",
	core.ColMemo:              "说明",
	core.ColCategory:          "类别",
}

func newEditView(action string, id int64, values map[string]string, preview string) editView {
	v := editView{Action: action, ID: id}
	for _, col := range core.Columns {
		typ := "text"
		if col == core.ColIncomeAmount || col == core.ColExpenseAmount {
			typ = "number"
		}
		v.Fields = append(v.Fields, formField{Name: col, Label: fieldLabels[col], Type: typ, Value: values[col]})
	}
	// only data URIs produced by the resizer reach here
	if isImageDataURI(preview) {
		v.Preview = template.URL(preview)
	}
	return v
}

type hintView struct {
	Message string
	URL     string
	Link    string
}

func (s *Server) renderHint(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.render(w, r, status, "hint.html", hintView{Message: message, URL: "/", Link: linkHome})
}

// renderError maps a service error to a hint page. Unexpected errors are
// logged and shown as a generic message.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error, op string) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		s.renderHint(w, r, status, msgInvalidID)
	case http.StatusNotFound:
		s.renderHint(w, r, status, msgNotFound)
	case http.StatusUnprocessableEntity:
		s.renderHint(w, r, status, err.Error())
	default:
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "Request failed", err, op, nil)
		s.renderHint(w, r, status, msgInternal)
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	body, err := executeTemplate(s.templates, name, data)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldOperation, log.OpRender,
			"template", name,
			log.FieldError, err)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) logSaved(r *http.Request, op string, rc core.Receipt) {
	log.NewStructuredLogger(log.FromContext(r.Context())).LogReceiptSaved(r.Context(), op, rc.ID,
		core.FormatAmount(rc.ExpenseAmount),
		core.FormatAmount(rc.IncomeAmount),
		rc.Category)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
