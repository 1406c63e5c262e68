package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"dailytask/internal/registry"
	logx "dailytask/pkg/logx"
)

const timeLayout = "2006-01-02 15:04:05"

var validate = validator.New(validator.WithRequiredStructEnabled())

// envelope is the uniform response shape of the management API. Code is the
// HTTP status as a string so clients get {"code":"200",...} on success.
type envelope struct {
	Code    string `json:"code"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type createTaskRequest struct {
	TaskType string `json:"task_type" validate:"required,oneof=billing attendance"`
	// RunTime in local server time; empty means run immediately.
	RunTime string `json:"run_time" validate:"omitempty,datetime=2006-01-02 15:04:05"`
}

type scheduleView struct {
	ID       string `json:"id"`
	TaskType string `json:"task_type"`
	Spec     string `json:"spec,omitempty"`
	RunAt    string `json:"run_at,omitempty"`
	Paused   bool   `json:"paused"`
	Next     string `json:"next_run_time,omitempty"`
	Last     string `json:"last_run_time,omitempty"`
}

func viewOf(s registry.Schedule) scheduleView {
	v := scheduleView{
		ID:       s.ID,
		TaskType: s.TaskType,
		Spec:     s.Spec,
		Paused:   s.Paused,
	}
	if !s.RunAt.IsZero() {
		v.RunAt = s.RunAt.Format(timeLayout)
	}
	if !s.Next.IsZero() {
		v.Next = s.Next.Format(timeLayout)
	}
	if !s.Last.IsZero() {
		v.Last = s.Last.Format(timeLayout)
	}
	return v
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer, s.auth)

	r.Route("/api/task", func(r chi.Router) {
		r.Post("/", s.handleCreateOnce)
		r.Route("/cron", func(r chi.Router) {
			r.Get("/", s.handleListCron)
			r.Patch("/pause/{id}", s.handlePause)
			r.Patch("/resume/{id}", s.handleResume)
		})
		r.Route("/date", func(r chi.Router) {
			r.Get("/", s.handleListOnce)
			r.Post("/", s.handleCreateOnce)
			r.Delete("/", s.handleRemoveAllOnce)
			r.Delete("/{id}", s.handleRemoveOnce)
		})
	})
	return r
}

// auth requires the bearer token on every route.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		const p = "Bearer "
		got := strings.TrimSpace(strings.TrimPrefix(ah, p))
		if ah == "" || !strings.HasPrefix(ah, p) || got != s.token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeFail(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic",
					logx.Any("panic", rec),
					logx.String("path", r.URL.Path),
					logx.Stack(logx.StackTrace(3, 16)))
				writeFail(w, http.StatusInternalServerError, fmt.Sprint(rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListCron(w http.ResponseWriter, r *http.Request) {
	s.writeList(w, registry.KindCron)
}

func (s *Server) handleListOnce(w http.ResponseWriter, r *http.Request) {
	s.writeList(w, registry.KindOnce)
}

func (s *Server) writeList(w http.ResponseWriter, kind registry.Kind) {
	scheds := s.reg.List(kind)
	views := make([]scheduleView, 0, len(scheds))
	for _, sc := range scheds {
		views = append(views, viewOf(sc))
	}
	writeOK(w, views)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, chi.URLParam(r, "id"), s.reg.Pause, "paused")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.toggle(w, chi.URLParam(r, "id"), s.reg.Resume, "resumed")
}

func (s *Server) toggle(w http.ResponseWriter, id string, op func(string) error, verb string) {
	if err := op(id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{"id": id, "status": verb})
}

func (s *Server) handleCreateOnce(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeFail(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	fn, ok := s.tasks[req.TaskType]
	if !ok {
		writeFail(w, http.StatusBadRequest, "unknown task type")
		return
	}

	runAt := time.Now()
	if req.RunTime != "" {
		t, err := time.ParseInLocation(timeLayout, req.RunTime, time.Local)
		if err != nil {
			writeFail(w, http.StatusBadRequest, "invalid run_time")
			return
		}
		runAt = t
	}

	id, err := s.reg.AddOnce(req.TaskType, runAt, fn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{"id": id, "run_at": runAt.Format(timeLayout)})
}

func (s *Server) handleRemoveOnce(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Remove(id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]string{"id": id, "status": "removed"})
}

func (s *Server) handleRemoveAllOnce(w http.ResponseWriter, r *http.Request) {
	removed := 0
	for _, sc := range s.reg.List(registry.KindOnce) {
		if err := s.reg.Remove(sc.ID); err == nil {
			removed++
		}
	}
	writeOK(w, map[string]int{"removed": removed})
}

func writeOK(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, envelope{
		Code: "200", Success: true, Message: "OK", Data: data,
	})
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Code: strconv.Itoa(status), Message: msg})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, registry.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeFail(w, status, err.Error())
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		return "field " + e.Field() + " fails " + e.Tag()
	}
	return "invalid request"
}
