package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FlavioMarcoHaux/MiniMax/internal/apikey"
	"github.com/FlavioMarcoHaux/MiniMax/internal/chat"
	"github.com/FlavioMarcoHaux/MiniMax/internal/friendly"
	"github.com/FlavioMarcoHaux/MiniMax/internal/notify"
	"github.com/FlavioMarcoHaux/MiniMax/internal/observe"
	"github.com/FlavioMarcoHaux/MiniMax/internal/schedule"
	"github.com/FlavioMarcoHaux/MiniMax/internal/voicesession"
	"github.com/FlavioMarcoHaux/MiniMax/pkg/provider/llm"
)

// maxBodyBytes bounds JSON request bodies. Chat histories are the largest.
const maxBodyBytes = 1 << 20

// User-facing messages for request errors.
const (
	invalidActivityMessage = "Atividade inválida."
	invalidTimeMessage     = "Data ou horário inválido."
	invalidBodyMessage     = "Requisição inválida."
	noSessionMessage       = "Nenhuma sessão ativa."
	notACallMessage        = "A sessão atual não é uma chamada do mentor."
	scheduleMissingMessage = "Agendamento não encontrado."
	scheduleClosedMessage  = "Este agendamento já foi concluído ou dispensado."
	emptyReplyMessage      = "O mentor não conseguiu responder agora. Tente reformular sua mensagem."
)

type errorBody struct {
	Error string `json:"error"`
}

type createScheduleRequest struct {
	Activity schedule.Activity `json:"activity"`
	Time     string            `json:"time"`
}

type createScheduleResponse struct {
	Schedule schedule.Schedule `json:"schedule"`
	Message  string            `json:"message"`
}

type setStatusRequest struct {
	Status schedule.Status `json:"status"`
}

type chatRequest struct {
	History []chat.Turn `json:"history"`
}

type chatResponse struct {
	Text string `json:"text"`
}

type mentorView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// routes builds the HTTP handler for every endpoint.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /schedules", a.listSchedules)
	mux.HandleFunc("POST /schedules", a.createSchedule)
	mux.HandleFunc("PATCH /schedules/{id}", a.setScheduleStatus)

	mux.HandleFunc("GET /session", a.getSession)
	mux.HandleFunc("POST /session/connect", a.connectSession)
	mux.HandleFunc("DELETE /session", a.exitSession)

	mux.HandleFunc("GET /mentors", a.listMentors)
	mux.HandleFunc("POST /chat/{agentID}", a.sendChat)

	mux.Handle("GET /device", a.gateway)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

func (a *App) listSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.List(r.Context())
	if err != nil {
		observe.LoggerFrom(r.Context(), a.log).Error("list schedules", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{friendly.DefaultMessage})
		return
	}
	if list == nil {
		list = []schedule.Schedule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *App) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	at, err := time.Parse(time.RFC3339, req.Time)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{invalidTimeMessage})
		return
	}

	if err := schedule.Validate(req.Activity, at, a.now()); err != nil {
		msg := invalidActivityMessage
		if errors.Is(err, schedule.ErrPastTime) {
			msg = schedule.PastTimeMessage
		}
		writeJSON(w, http.StatusBadRequest, errorBody{msg})
		return
	}

	sc, err := a.store.Add(r.Context(), req.Activity, at)
	if err != nil {
		observe.LoggerFrom(r.Context(), a.log).Error("add schedule", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{friendly.DefaultMessage})
		return
	}
	msg := schedule.ConfirmationMessage(at.In(a.loc))
	a.notifier.Notify(msg, notify.SeveritySuccess)
	writeJSON(w, http.StatusCreated, createScheduleResponse{Schedule: sc, Message: msg})
}

func (a *App) setScheduleStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := a.store.SetStatus(r.Context(), r.PathValue("id"), req.Status)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, schedule.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{scheduleMissingMessage})
	case errors.Is(err, schedule.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, errorBody{invalidBodyMessage})
	case errors.Is(err, schedule.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{scheduleClosedMessage})
	default:
		observe.LoggerFrom(r.Context(), a.log).Error("set schedule status", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{friendly.DefaultMessage})
	}
}

func (a *App) getSession(w http.ResponseWriter, _ *http.Request) {
	view, ok := a.sessions.Current()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{noSessionMessage})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *App) connectSession(w http.ResponseWriter, r *http.Request) {
	err := a.sessions.Connect(r.Context())
	switch {
	case errors.Is(err, ErrNoSession):
		writeJSON(w, http.StatusNotFound, errorBody{noSessionMessage})
		return
	case errors.Is(err, ErrNotACall):
		writeJSON(w, http.StatusConflict, errorBody{notACallMessage})
		return
	case errors.Is(err, voicesession.ErrClosed):
		writeJSON(w, http.StatusConflict, errorBody{noSessionMessage})
		return
	case errors.Is(err, apikey.ErrUnavailable):
		writeJSON(w, http.StatusBadGateway, errorBody{apikey.UnavailableMessage})
		return
	}

	// The call's own state carries the user-facing message, including
	// for failures.
	view, ok := a.sessions.Current()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{noSessionMessage})
		return
	}
	status := http.StatusOK
	if err != nil {
		observe.LoggerFrom(r.Context(), a.log).Warn("session connect failed", "err", err)
		status = http.StatusBadGateway
	}
	writeJSON(w, status, view)
}

func (a *App) exitSession(w http.ResponseWriter, _ *http.Request) {
	if err := a.sessions.Exit(); errors.Is(err, ErrNoSession) {
		writeJSON(w, http.StatusNotFound, errorBody{noSessionMessage})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) listMentors(w http.ResponseWriter, _ *http.Request) {
	mentors := a.chat.Mentors()
	out := make([]mentorView, 0, len(mentors))
	for _, m := range mentors {
		out = append(out, mentorView{ID: m.ID, Name: m.Name, Description: m.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) sendChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	text, err := a.chat.SendChat(r.Context(), r.PathValue("agentID"), req.History)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, chatResponse{Text: text})
	case errors.Is(err, chat.ErrEmptyHistory):
		writeJSON(w, http.StatusBadRequest, errorBody{invalidBodyMessage})
	case errors.Is(err, llm.ErrEmptyReply):
		writeJSON(w, http.StatusBadGateway, errorBody{emptyReplyMessage})
	default:
		writeJSON(w, http.StatusBadGateway, errorBody{friendly.Message(err, "")})
	}
}

// decodeJSON reads a bounded JSON body into v. On failure it writes a 400
// and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{invalidBodyMessage})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
