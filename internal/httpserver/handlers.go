package httpserver

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"burnbin/internal/paste"
)

var (
	expireChoices = []expireOption{
		{Value: "10m", Label: "10 minutes", Duration: 10 * time.Minute},
		{Value: "1h", Label: "1 hour", Duration: time.Hour},
		{Value: "1d", Label: "1 day", Duration: 24 * time.Hour},
		{Value: "7d", Label: "7 days", Duration: 7 * 24 * time.Hour},
		{Value: "never", Label: "Never", Duration: 0},
	}
	expireMap = func() map[string]time.Duration {
		m := make(map[string]time.Duration, len(expireChoices))
		for _, c := range expireChoices {
			m[c.Value] = c.Duration
		}
		return m
	}()
)

const (
	defaultExpire  = "7d"
	unavailableMsg = "Paste not found or expired"
)

type expireOption struct {
	Value    string
	Label    string
	Duration time.Duration
}

type option struct {
	Value    string
	Label    string
	Selected bool
}

type indexPageData struct {
	ExpireOptions []option
	Content       string
	Expire        string
	MaxViews      string
	Error         string
}

type createdPageData struct {
	ID        string
	Path      string
	Canonical string
	ExpiresAt time.Time
	MaxViews  *int
}

type viewPageData struct {
	View      *paste.View
	ExpiresIn string
}

type errorPageData struct {
	Message string
}

type titled interface {
	PageTitle() string
}

func (d indexPageData) PageTitle() string {
	return "New Paste · burnbin"
}

func (d createdPageData) PageTitle() string {
	return "Paste Created · burnbin"
}

func (d viewPageData) PageTitle() string {
	if d.View != nil && d.View.ID != "" {
		return fmt.Sprintf("%s · burnbin", d.View.ID)
	}
	return "View Paste · burnbin"
}

func (d errorPageData) PageTitle() string {
	if d.Message == "" {
		return "burnbin"
	}
	return d.Message + " · burnbin"
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index", s.indexData(defaultExpire, "", "", ""))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, r, http.StatusBadRequest, "index", s.indexData(defaultExpire, "", "", "Unable to parse form"))
		return
	}

	content := r.FormValue("content")
	expire := r.FormValue("expire")
	maxViewsRaw := strings.TrimSpace(r.FormValue("max_views"))

	if expire == "" {
		expire = defaultExpire
	}

	duration, ok := expireMap[expire]
	if !ok {
		s.render(w, r, http.StatusBadRequest, "index", s.indexData(expire, content, maxViewsRaw, "Invalid expiration"))
		return
	}

	var maxViews *int
	if maxViewsRaw != "" {
		v, err := strconv.Atoi(maxViewsRaw)
		if err != nil {
			s.render(w, r, http.StatusBadRequest, "index", s.indexData(expire, content, maxViewsRaw, "Max views must be a whole number"))
			return
		}
		if v < 0 {
			s.render(w, r, http.StatusBadRequest, "index", s.indexData(expire, content, maxViewsRaw, "Max views cannot be negative"))
			return
		}
		maxViews = &v
	}

	created, err := s.engine.Create(r.Context(), paste.CreateParams{
		Content:  content,
		TTL:      duration,
		MaxViews: maxViews,
	})
	if err != nil {
		if errors.Is(err, paste.ErrInvalidInput) {
			s.render(w, r, http.StatusBadRequest, "index", s.indexData(expire, content, maxViewsRaw, "Content cannot be empty"))
			return
		}
		s.serverError(w, r, err)
		return
	}

	s.render(w, r, http.StatusCreated, "created", createdPageData{
		ID:        created.ID,
		Path:      created.URL,
		Canonical: s.canonicalURL(r, created.ID),
		ExpiresAt: created.ExpiresAt,
		MaxViews:  created.MaxViews,
	})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	now := s.nowFor(r)
	view, err := s.engine.Fetch(r.Context(), chi.URLParam(r, "id"), now)
	if err != nil {
		s.lookupError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.render(w, r, http.StatusOK, "view", viewPageData{
		View:      view,
		ExpiresIn: remaining(view.ExpiresAt, now),
	})
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Fetch(r.Context(), chi.URLParam(r, "id"), s.nowFor(r))
	if err != nil {
		if errors.Is(err, paste.ErrUnavailable) {
			http.Error(w, unavailableMsg, http.StatusNotFound)
			return
		}
		s.logError(r, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, view.Content)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.engine.Inspect(r.Context(), id, s.nowFor(r)); err != nil {
		s.lookupError(w, r, err)
		return
	}

	png, err := qrcode.Encode(s.canonicalURL(r, id), qrcode.Medium, 256)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// lookupError renders the generic not-found page for unavailable pastes and
// a server error for everything else.
func (s *Server) lookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, paste.ErrUnavailable) {
		s.notFound(w, r)
		return
	}
	s.serverError(w, r, err)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	title := "burnbin"
	if t, ok := data.(titled); ok {
		if pt := t.PageTitle(); pt != "" {
			title = pt
		}
	}
	body := &bytes.Buffer{}
	bodyTemplate := name + "-body"
	if err := s.templates.ExecuteTemplate(body, bodyTemplate, data); err != nil {
		s.handleTemplateError(w, status, bodyTemplate, err)
		return
	}
	layoutBuf := &bytes.Buffer{}
	layoutData := struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body.String()),
	}
	if err := s.templates.ExecuteTemplate(layoutBuf, "layout", layoutData); err != nil {
		s.handleTemplateError(w, status, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = layoutBuf.WriteTo(w)
}

func (s *Server) handleTemplateError(w http.ResponseWriter, status int, name string, err error) {
	if s.logger != nil {
		s.logger.Error("render template", "error", err, "template", name)
	}
	http.Error(w, "Template error", status)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logError(r, err)
	s.render(w, r, http.StatusInternalServerError, "error", errorPageData{Message: "Internal server error"})
}

func (s *Server) logError(r *http.Request, err error) {
	if s.logger != nil {
		s.logger.Error("internal error", "error", err, "path", r.URL.Path)
	}
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "error", errorPageData{Message: unavailableMsg})
}

func (s *Server) indexData(selectedExpire, content, maxViews, errMsg string) indexPageData {
	if _, ok := expireMap[selectedExpire]; !ok {
		selectedExpire = defaultExpire
	}
	expOpts := make([]option, 0, len(expireChoices))
	for _, c := range expireChoices {
		expOpts = append(expOpts, option{
			Value:    c.Value,
			Label:    c.Label,
			Selected: c.Value == selectedExpire,
		})
	}
	return indexPageData{
		ExpireOptions: expOpts,
		Content:       content,
		Expire:        selectedExpire,
		MaxViews:      maxViews,
		Error:         errMsg,
	}
}

func remaining(expires time.Time, now time.Time) string {
	if expires.IsZero() {
		return "Never"
	}
	if !now.Before(expires) {
		return "Expired"
	}
	dur := expires.Sub(now)
	if dur < time.Second {
		return "Less than a second"
	}
	units := []struct {
		d    time.Duration
		name string
	}{
		{time.Hour * 24, "day"},
		{time.Hour, "hour"},
		{time.Minute, "minute"},
	}
	parts := make([]string, 0, len(units))
	for _, u := range units {
		if dur >= u.d {
			count := dur / u.d
			parts = append(parts, plural(int(count), u.name))
			dur -= count * u.d
		}
	}
	if len(parts) == 0 {
		seconds := int(dur.Seconds())
		if seconds <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", seconds)
	}
	return strings.Join(parts, ", ")
}

func plural(count int, singular string) string {
	if count == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %ss", count, singular)
}
