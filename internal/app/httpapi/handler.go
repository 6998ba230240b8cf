// Package httpapi exposes the marketplace over HTTP.
package httpapi

import (
	stderrors "errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	app "github.com/clothbridge/clothbridge/internal/app"
	"github.com/clothbridge/clothbridge/internal/app/domain/catalog"
	"github.com/clothbridge/clothbridge/internal/app/metrics"
	"github.com/clothbridge/clothbridge/internal/app/realtime"
	"github.com/clothbridge/clothbridge/internal/app/services/donations"
	"github.com/clothbridge/clothbridge/internal/app/services/listings"
	"github.com/clothbridge/clothbridge/internal/app/services/requests"
	"github.com/clothbridge/clothbridge/internal/app/services/uploads"
	"github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/internal/httputil"
	"github.com/clothbridge/clothbridge/internal/logging"
	"github.com/clothbridge/clothbridge/internal/middleware"
)

const multipartMemory = 8 << 20

// Options carries the HTTP-level collaborators. Nil middleware is replaced
// by a pass-through, except Auth which then rejects every protected route.
type Options struct {
	Auth    *middleware.AuthMiddleware
	Limiter *middleware.RateLimiter
	CORS    *middleware.CORSMiddleware
	Hub     *realtime.Hub
	Audit   *AuditLog
	Log     *logging.Logger
	// MaxUploadBytes caps multipart bodies.
	MaxUploadBytes int64
}

type handler struct {
	app       *app.Application
	auth      *middleware.AuthMiddleware
	limiter   *middleware.RateLimiter
	hub       *realtime.Hub
	audit     *AuditLog
	log       *logging.Logger
	maxUpload int64
}

// NewHandler returns the API router wrapped in tracing and CORS.
func NewHandler(application *app.Application, opts Options) http.Handler {
	if opts.Log == nil {
		opts.Log = logging.New("httpapi", "info", "json")
	}
	if opts.Auth == nil {
		opts.Auth = middleware.NewAuthMiddleware(nil, opts.Log, nil)
	}
	if opts.Audit == nil {
		opts.Audit = newAuditLog(0, nil)
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	h := &handler{
		app:       application,
		auth:      opts.Auth,
		limiter:   opts.Limiter,
		hub:       opts.Hub,
		audit:     opts.Audit,
		log:       opts.Log,
		maxUpload: opts.MaxUploadBytes,
	}

	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware())
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteError(w, req, errors.NotFound("route", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.MethodNotAllowed(w)
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/catalog", h.public(h.catalog)).Methods(http.MethodGet)

	r.Handle("/auth/signup", h.public(h.signUp)).Methods(http.MethodPost)
	r.Handle("/auth/login", h.public(h.signIn)).Methods(http.MethodPost)
	r.Handle("/auth/refresh", h.public(h.refresh)).Methods(http.MethodPost)
	r.Handle("/auth/forgot-password", h.public(h.forgotPassword)).Methods(http.MethodPost)
	r.Handle("/auth/reset-password", h.private(h.resetPassword)).Methods(http.MethodPost)
	r.Handle("/auth/logout", h.private(h.signOut)).Methods(http.MethodPost)
	r.Handle("/auth/oauth/{provider}", h.public(h.oauth)).Methods(http.MethodGet)
	r.Handle("/auth/me", h.private(h.me)).Methods(http.MethodGet)

	r.Handle("/listings/donations", h.optional(h.listings(listings.KindDonations))).Methods(http.MethodGet)
	r.Handle("/listings/requests", h.optional(h.listings(listings.KindRequests))).Methods(http.MethodGet)

	r.Handle("/donations", h.private(h.createDonation)).Methods(http.MethodPost)
	r.Handle("/donations/{id}", h.optional(h.getDonation)).Methods(http.MethodGet)
	r.Handle("/donations/{id}/fulfill", h.private(h.fulfill)).Methods(http.MethodPost)

	r.Handle("/requests", h.private(h.createRequest)).Methods(http.MethodPost)
	r.Handle("/requests/{id}", h.optional(h.getRequest)).Methods(http.MethodGet)

	r.Handle("/matches/{id}/accept", h.private(h.accept)).Methods(http.MethodPost)
	r.Handle("/matches/{id}/decline", h.private(h.decline)).Methods(http.MethodPost)

	r.Handle("/dashboard", h.private(h.dashboard)).Methods(http.MethodGet)
	r.Handle("/contact", h.public(h.contact)).Methods(http.MethodPost)
	r.Handle("/ws", h.auth.Required(http.HandlerFunc(h.websocket))).Methods(http.MethodGet)

	var root http.Handler = r
	if opts.CORS != nil {
		root = opts.CORS.Handler(root)
	}
	return middleware.NewTracingMiddleware(opts.Log).Handler(root)
}

// Route composition ----------------------------------------------------------

func (h *handler) limit(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return h.limiter.Handler(next)
}

func (h *handler) public(fn http.HandlerFunc) http.Handler {
	return h.limit(h.audited(fn))
}

func (h *handler) optional(fn http.HandlerFunc) http.Handler {
	return h.auth.Optional(h.limit(fn))
}

func (h *handler) private(fn http.HandlerFunc) http.Handler {
	return h.auth.Required(h.limit(h.audited(fn)))
}

// System ---------------------------------------------------------------------

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":   "ok",
		"services": h.app.Services(),
	}
	if h.hub != nil {
		body["realtime_clients"] = h.hub.Count()
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		body["memory_used_percent"] = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(r.Context()); err == nil {
		body["load1"] = avg.Load1
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (h *handler) catalog(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, catalog.All())
}

// Auth -----------------------------------------------------------------------

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handler) signUp(w http.ResponseWriter, r *http.Request) {
	if h.app.Accounts == nil {
		httputil.WriteError(w, r, errors.Unavailable("authentication"))
		return
	}
	var body credentials
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	resp, err := h.app.Accounts.SignUp(r.Context(), body.Email, body.Password)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

func (h *handler) signIn(w http.ResponseWriter, r *http.Request) {
	if h.app.Accounts == nil {
		httputil.WriteError(w, r, errors.Unavailable("authentication"))
		return
	}
	var body credentials
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	resp, err := h.app.Accounts.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		h.log.LogSecurityEvent(r.Context(), "login_failed", map[string]interface{}{"email": body.Email})
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	if h.app.Accounts == nil {
		httputil.WriteError(w, r, errors.Unavailable("authentication"))
		return
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	resp, err := h.app.Accounts.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	if h.app.Accounts == nil {
		httputil.WriteError(w, r, errors.Unavailable("authentication"))
		return
	}
	var body struct {
		Email      string `json:"email"`
		RedirectTo string `json:"redirect_to"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.app.Accounts.ForgotPassword(r.Context(), body.Email, body.RedirectTo); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	// Same answer whether or not the address is registered.
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	if h.app.Accounts == nil {
		httputil.WriteError(w, r, errors.Unavailable("authentication"))
		return
	}
	var body struct {
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.app.Accounts.ResetPassword(r.Context(), httputil.BearerToken(r), body.Password, body.ConfirmPassword); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.log.LogSecurityEvent(r.Context(), "password_reset", nil)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *handler) signOut(w http.ResponseWriter, r *http.Request) {
	if h.app.Accounts == nil {
		httputil.WriteError(w, r, errors.Unavailable("authentication"))
		return
	}
	if err := h.app.Accounts.SignOut(r.Context(), httputil.BearerToken(r)); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) oauth(w http.ResponseWriter, r *http.Request) {
	if h.app.Accounts == nil {
		httputil.WriteError(w, r, errors.Unavailable("authentication"))
		return
	}
	target, err := h.app.Accounts.OAuthURL(mux.Vars(r)["provider"], r.URL.Query().Get("redirect_to"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	if h.app.Accounts == nil {
		httputil.WriteError(w, r, errors.Unavailable("authentication"))
		return
	}
	user, err := h.app.Accounts.CurrentUser(r.Context(), httputil.BearerToken(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// Listings -------------------------------------------------------------------

func (h *handler) listings(kind listings.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		board, err := h.app.Listings.Browse(r.Context(), middleware.GetUserID(r.Context()), kind, r.URL.Query().Get("q"))
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if kind == listings.KindDonations {
			httputil.WriteJSON(w, http.StatusOK, board.Donations)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, board.Requests)
	}
}

// Donations ------------------------------------------------------------------

func (h *handler) createDonation(w http.ResponseWriter, r *http.Request) {
	var in donations.CreateInput
	form, err := h.readForm(w, r, &in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	defer form.cleanup()

	files, err := form.files("images[]", "images")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	created, err := h.app.Donations.Create(r.Context(), middleware.GetUserID(r.Context()), in, files)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getDonation(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Donations.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Matching.Fulfill(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// Requests -------------------------------------------------------------------

func (h *handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var in requests.CreateInput
	form, err := h.readForm(w, r, &in)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	defer form.cleanup()

	photos, err := form.files("ration_card_photo")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var photo *uploads.File
	switch len(photos) {
	case 0:
	case 1:
		photo = &photos[0]
	default:
		httputil.WriteError(w, r, errors.Validation("ration_card_photo", "only one photo may be attached"))
		return
	}

	created, err := h.app.Requests.Create(r.Context(), middleware.GetUserID(r.Context()), in, photo)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.app.Requests.Get(r.Context(), mux.Vars(r)["id"], middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

// Matches --------------------------------------------------------------------

func (h *handler) accept(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Matching.Accept(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

func (h *handler) decline(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Matching.Decline(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

// Dashboard, contact, realtime -----------------------------------------------

func (h *handler) dashboard(w http.ResponseWriter, r *http.Request) {
	view, err := h.app.Dashboard.Load(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *handler) contact(w http.ResponseWriter, r *http.Request) {
	if h.app.Contact == nil {
		httputil.WriteError(w, r, errors.Unavailable("contact form"))
		return
	}
	var body struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		Message string `json:"message"`
	}
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.app.Contact.Send(r.Context(), body.Name, body.Email, body.Message); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *handler) websocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		httputil.WriteError(w, r, errors.Unavailable("realtime"))
		return
	}
	h.hub.ServeWS(w, r, middleware.GetUserID(r.Context()))
}

// Multipart ------------------------------------------------------------------

type form struct {
	req    *http.Request
	opened []multipart.File
}

// readForm decodes the "payload" field of a multipart body into dst. A plain
// JSON body is accepted too and then carries no files.
func (h *handler) readForm(w http.ResponseWriter, r *http.Request, dst interface{}) (*form, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := httputil.DecodeJSON(r, dst); err != nil {
			return nil, err
		}
		return &form{req: r}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.PayloadTooLarge(h.maxUpload)
		}
		return nil, errors.BadRequest("invalid multipart body")
	}
	f := &form{req: r}
	payload := r.MultipartForm.Value["payload"]
	if len(payload) == 0 {
		f.cleanup()
		return nil, errors.Validation("payload", "payload is required")
	}
	if err := httputil.DecodeJSONReader(strings.NewReader(payload[0]), dst); err != nil {
		f.cleanup()
		return nil, err
	}
	return f, nil
}

// files opens the parts under the first field name present.
func (f *form) files(fields ...string) ([]uploads.File, error) {
	if f.req.MultipartForm == nil {
		return nil, nil
	}
	var headers []*multipart.FileHeader
	for _, field := range fields {
		if hs := f.req.MultipartForm.File[field]; len(hs) > 0 {
			headers = hs
			break
		}
	}
	out := make([]uploads.File, 0, len(headers))
	for _, fh := range headers {
		file, err := fh.Open()
		if err != nil {
			return nil, errors.BadRequest("unreadable file " + fh.Filename)
		}
		f.opened = append(f.opened, file)
		out = append(out, uploads.File{Name: fh.Filename, Reader: file})
	}
	return out, nil
}

func (f *form) cleanup() {
	for _, file := range f.opened {
		_ = file.Close()
	}
	f.opened = nil
	if f.req.MultipartForm != nil {
		_ = f.req.MultipartForm.RemoveAll()
	}
}
