package pricewatch

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/satsview/kit"
	"github.com/hazyhaar/satsview/pricewatch/internal/config"
	"github.com/hazyhaar/satsview/shield"
)

// MaxUpload is the default cap on HTML accepted for annotation; see
// ServerConfig.MaxUpload.
const MaxUpload = config.DefaultMaxUpload

// Handler returns the HTTP API:
//
//	GET  /healthz
//	GET  /rate
//	POST /annotate?url=&format=   body: HTML
//	GET  /annotate?url=&format=
//
// Annotation responses are report.Page JSON; ?raw=1 returns the annotated
// document itself.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.Stack(s.logger, s.maxUpload) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/rate", s.handleRate)
	r.Post("/annotate", s.handleAnnotateHTML)
	r.Get("/annotate", s.handleAnnotateURL)
	return r
}

func (s *Service) handleRate(w http.ResponseWriter, _ *http.Request) {
	rt, ok := s.Rate()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, errors.New("no exchange rate yet"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"currency": s.cfg.Currency.Code,
		"rate":     rt,
		"usable":   rt.Usable(),
	})
}

func (s *Service) handleAnnotateHTML(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := s.AnnotateHTML(r.Context(), body, r.URL.Query().Get("url"), f)
	s.respondPage(w, r, page, err)
}

func (s *Service) handleAnnotateURL(w http.ResponseWriter, r *http.Request) {
	f, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page, err := s.AnnotateURL(r.Context(), r.URL.Query().Get("url"), f)
	s.respondPage(w, r, page, err)
}

func (s *Service) respondPage(w http.ResponseWriter, r *http.Request, page *Page, err error) {
	switch {
	case errors.Is(err, ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, ErrForbiddenURL):
		writeError(w, http.StatusForbidden, err)
		return
	case errors.Is(err, ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	case err != nil:
		s.logger.Warn("pricewatch: annotate failed", "error", err,
			"request_id", kit.GetRequestID(r.Context()))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	if r.URL.Query().Get("raw") == "1" {
		if page.Markdown != "" {
			w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
			io.WriteString(w, page.Markdown)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page.HTML)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
