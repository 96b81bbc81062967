package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mirsubmit/backend/internal/metrics"
	"github.com/mirsubmit/backend/internal/model"
	"github.com/mirsubmit/backend/internal/service"
	"github.com/mirsubmit/backend/pkg/auth"
)

// Control parameters of the /mailer endpoint. They are never part of FormFields.
const (
	ParamAction   = "action"
	ParamCaptcha  = "captcha"
	ParamRedirect = "redirect"
	ParamFile     = "file"

	ActionCaptcha     = "captcha"
	ActionCaptchaPlay = "captcha-play"
)

// multipartMemory is how much of a multipart body is held in memory before
// the rest spills to temporary files.
const multipartMemory = 8 << 20

// Flow routes one action to a submission handler.
type Flow struct {
	Name           string
	Handler        string
	RequireCaptcha bool
	FormURL        string
	SuccessURL     string
}

// MailerConfig configures MailerHandler.
type MailerConfig struct {
	Flows                 []Flow
	UnknownActionRedirect string   // empty: unknown actions get 400
	DisallowedDomains     []string // sender domains rejected before the handler runs
	MaxRequestSize        int64    // 0: unlimited
	AllowedRedirectHosts  []string // hosts accepted in absolute redirect targets
}

// MailerHandler serves /mailer: captcha image and audio, and form submissions.
type MailerHandler struct {
	captcha  service.CaptchaService
	registry *service.HandlerRegistry
	audit    *service.AuditService
	metrics  *metrics.Metrics
	flows    map[string]Flow
	cfg      MailerConfig
}

// NewMailerHandler creates a MailerHandler. audit and m may be nil.
func NewMailerHandler(captcha service.CaptchaService, registry *service.HandlerRegistry, audit *service.AuditService, m *metrics.Metrics, cfg MailerConfig) *MailerHandler {
	flows := make(map[string]Flow, len(cfg.Flows))
	for _, f := range cfg.Flows {
		flows[f.Name] = f
	}
	return &MailerHandler{
		captcha:  captcha,
		registry: registry,
		audit:    audit,
		metrics:  m,
		flows:    flows,
		cfg:      cfg,
	}
}

// ServeHTTP handles GET and POST /mailer.
func (h *MailerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxRequestSize > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestSize)
	}
	if err := parseForm(r); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("request body too large", "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large")
			return
		}
		slog.Debug("failed to parse form", "error", err)
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	DumpRequest(r)

	action := r.Form.Get(ParamAction)
	switch action {
	case ActionCaptcha:
		h.serveCaptchaImage(w, r)
		return
	case ActionCaptchaPlay:
		h.serveCaptchaAudio(w, r)
		return
	}

	flow, ok := h.flows[action]
	if !ok {
		if action == "" {
			slog.Info("mailer request without action")
		} else {
			slog.Info("unknown mailer action", "action", action)
		}
		if h.cfg.UnknownActionRedirect != "" {
			http.Redirect(w, r, h.cfg.UnknownActionRedirect, http.StatusSeeOther)
			return
		}
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}
	h.submit(w, r, flow)
}

func (h *MailerHandler) serveCaptchaImage(w http.ResponseWriter, r *http.Request) {
	sid, _ := auth.SessionIDFromContext(r.Context())
	img, err := h.captcha.IssueImage(r.Context(), sid)
	if err != nil {
		slog.Error("failed to issue captcha image", "error", err)
		writeError(w, http.StatusInternalServerError, "captcha_failed")
		return
	}
	h.metrics.ObserveCaptchaIssued("image")
	writeBinary(w, "image/png", img)
}

func (h *MailerHandler) serveCaptchaAudio(w http.ResponseWriter, r *http.Request) {
	sid, _ := auth.SessionIDFromContext(r.Context())
	wav, err := h.captcha.IssueAudio(r.Context(), sid)
	if err != nil {
		slog.Error("failed to issue captcha audio", "error", err)
		writeError(w, http.StatusInternalServerError, "captcha_failed")
		return
	}
	h.metrics.ObserveCaptchaIssued("audio")
	writeBinary(w, "audio/wav", wav)
}

func (h *MailerHandler) submit(w http.ResponseWriter, r *http.Request, flow Flow) {
	ctx := r.Context()
	fields := model.NewFormFields(r.Form, ParamCaptcha, ParamAction)
	rec := &model.SubmissionRecord{
		ID:      uuid.NewString(),
		Action:  flow.Name,
		Handler: flow.Handler,
	}
	log := slog.With("submission", rec.ID, "action", flow.Name)
	defer func() {
		h.metrics.ObserveSubmission(rec.Action, rec.Outcome)
		h.audit.Record(ctx, rec)
	}()

	if flow.RequireCaptcha {
		sid, _ := auth.SessionIDFromContext(ctx)
		err := h.captcha.Verify(ctx, sid, r.Form.Get(ParamCaptcha))
		h.metrics.ObserveCaptchaVerification(err == nil)
		if err != nil {
			if !errors.Is(err, model.ErrCaptchaInvalid) {
				log.Error("captcha verification failed", "error", err)
				rec.Outcome = model.OutcomeFailed
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}
			log.Debug("captcha is invalid, sending error redirect")
			rec.Outcome = model.OutcomeCaptcha
			rec.ErrorCode = "captcha"
			http.Redirect(w, r, errorRedirectURL(flow.FormURL, "captcha", fields), http.StatusSeeOther)
			return
		}
	}

	email, ok := fields.Get(service.FieldSenderEmail)
	if !ok {
		log.Info("submission without sender field")
		rec.Outcome = model.OutcomeRejected
		rec.ErrorCode = "missing_sender"
		writeError(w, http.StatusBadRequest, "missing_sender")
		return
	}
	rec.SenderDomain = service.SenderDomain(email)
	if err := service.CheckSenderDomain(email, h.cfg.DisallowedDomains); err != nil {
		log.Warn("will not send mail, disallowed sender domain", "domain", rec.SenderDomain)
		h.reject(w, r, flow, fields, rec, err)
		return
	}

	handler, err := h.registry.Lookup(flow.Handler)
	if err != nil {
		log.Error("no submission handler for flow", "handler", flow.Handler, "error", err)
		rec.Outcome = model.OutcomeFailed
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	sub := &model.Submission{
		ID:          rec.ID,
		Action:      flow.Name,
		Fields:      fields,
		Attachments: collectAttachments(r, ParamFile),
	}
	rec.AttachmentCount = len(sub.Attachments)

	err = handler.Handle(ctx, sub)
	var verr *model.ValidationError
	switch {
	case err == nil:
		rec.Outcome = model.OutcomeDelivered
		target := flow.SuccessURL
		if to, ok := h.safeRedirect(r.Form.Get(ParamRedirect)); ok {
			target = to
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	case errors.As(err, &verr):
		log.Info("submission rejected", "error", err)
		h.reject(w, r, flow, fields, rec, verr)
	case errors.Is(err, model.ErrMissingSenderForCopy):
		log.Info("copy requested without sender address")
		rec.Outcome = model.OutcomeRejected
		rec.ErrorCode = "missing_sender_for_copy"
		writeError(w, http.StatusBadRequest, "missing_sender_for_copy")
	default:
		log.Error("submission failed", "error", err)
		rec.Outcome = model.OutcomeFailed
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// reject redirects back to the form with the validation code and the fields echoed.
func (h *MailerHandler) reject(w http.ResponseWriter, r *http.Request, flow Flow, fields *model.FormFields, rec *model.SubmissionRecord, err error) {
	code := "invalid"
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		code = verr.Code()
	}
	rec.Outcome = model.OutcomeRejected
	rec.ErrorCode = code
	http.Redirect(w, r, errorRedirectURL(flow.FormURL, code, fields), http.StatusSeeOther)
}

// safeRedirect accepts same-origin paths and absolute http(s) URLs on an
// allowed host.
func (h *MailerHandler) safeRedirect(target string) (string, bool) {
	if target == "" || strings.ContainsAny(target, "\\\r\n") {
		return "", false
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	if u.Scheme == "" && u.Host == "" {
		if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
			return "", false
		}
		return target, true
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	for _, host := range h.cfg.AllowedRedirectHosts {
		if strings.EqualFold(u.Host, host) {
			return target, true
		}
	}
	return "", false
}

// parseForm parses query and body. ParseMultipartForm is only used for
// multipart bodies since it hides ParseForm errors behind ErrNotMultipart.
func parseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

// collectAttachments returns the non-empty uploads of the named multipart field.
func collectAttachments(r *http.Request, field string) []model.InboundAttachment {
	if r.MultipartForm == nil {
		return nil
	}
	var out []model.InboundAttachment
	for _, fh := range r.MultipartForm.File[field] {
		if fh.Size == 0 {
			continue
		}
		out = append(out, &multipartAttachment{fh: fh})
	}
	return out
}

// multipartAttachment adapts a multipart file header to model.InboundAttachment.
type multipartAttachment struct {
	fh *multipart.FileHeader
}

func (a *multipartAttachment) Filename() string { return a.fh.Filename }
func (a *multipartAttachment) Size() int64      { return a.fh.Size }

func (a *multipartAttachment) Open() (io.ReadCloser, error) {
	return a.fh.Open()
}

// errorRedirectURL appends error=<code> and every field to base, encoded the
// way browsers' encodeURIComponent does.
func errorRedirectURL(base, code string, fields *model.FormFields) string {
	var b strings.Builder
	b.WriteString(base)
	if strings.Contains(base, "?") {
		b.WriteString("&")
	} else {
		b.WriteString("?")
	}
	b.WriteString("error=")
	b.WriteString(encodeURIComponent(code))
	for _, name := range fields.Names() {
		b.WriteString("&")
		b.WriteString(encodeURIComponent(name))
		b.WriteString("=")
		b.WriteString(encodeURIComponent(fields.Value(name)))
	}
	return b.String()
}

var uriComponentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%7E", "~",
)

func encodeURIComponent(s string) string {
	return uriComponentReplacer.Replace(url.QueryEscape(s))
}

func writeBinary(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
