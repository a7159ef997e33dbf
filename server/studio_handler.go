package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"MusicFlow/core/composition"
	"MusicFlow/core/playback"
	"MusicFlow/core/studio"
	"MusicFlow/logger"

	"github.com/gorilla/mux"
)

// RegisterStudioRoutes 注册作曲工作室路由
func RegisterStudioRoutes(router *mux.Router, h *Handler) {
	api := router.PathPrefix("/api/studio").Subrouter()
	api.HandleFunc("", h.AuthMiddleware(h.CreateStudioHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{id}", h.AuthMiddleware(h.GetStudioHandler)).Methods(http.MethodGet)
	api.HandleFunc("/{id}", h.AuthMiddleware(h.CloseStudioHandler)).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/notes", h.AuthMiddleware(h.AddNoteHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/notes/parse", h.AuthMiddleware(h.ParseNotesHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/notes/clear", h.AuthMiddleware(h.ClearNotesHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/notes/{noteId}", h.AuthMiddleware(h.RemoveNoteHandler)).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/chords", h.AuthMiddleware(h.AddChordHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/chords/{index:[0-9]+}", h.AuthMiddleware(h.RemoveChordHandler)).Methods(http.MethodDelete)
	api.HandleFunc("/{id}/settings", h.AuthMiddleware(h.UpdateSettingsHandler)).Methods(http.MethodPut)
	api.HandleFunc("/{id}/playback/{action:toggle|stop}", h.AuthMiddleware(h.PlaybackHandler)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/export.mid", h.AuthMiddleware(h.ExportMIDIHandler)).Methods(http.MethodGet)

	router.HandleFunc("/ws/studio/{id}", h.StudioWebSocketHandler).Methods(http.MethodGet)
}

// CreateStudioHandler 打开新的工作室
func (h *Handler) CreateStudioHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	s, err := h.studios.Create(userID)
	if err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *Handler) GetStudioHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// CloseStudioHandler 关闭工作室，取消所有计时器
func (h *Handler) CloseStudioHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err := h.studios.Close(mux.Vars(r)["id"], userID); err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}

type addNoteRequest struct {
	Name        string               `json:"name"`
	Octave      int                  `json:"octave"`
	Duration    composition.Duration `json:"duration"`
	CustomValue float64              `json:"customValue"`
}

func (h *Handler) AddNoteHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	var req addNoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	note, err := s.AddNote(req.Name, req.Octave, req.Duration, req.CustomValue)
	if err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"note": note, "studio": s.View()})
}

func (h *Handler) ParseNotesHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	res, err := s.ParseNotes(req.Text)
	if err != nil {
		studioError(w, err)
		return
	}
	skipped := res.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	notes := res.Notes
	if notes == nil {
		notes = []composition.Note{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notes":   notes,
		"skipped": skipped,
		"studio":  s.View(),
	})
}

func (h *Handler) ClearNotesHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	if err := s.ClearNotes(); err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *Handler) RemoveNoteHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	removed, err := s.RemoveNote(mux.Vars(r)["noteId"])
	if err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed, "studio": s.View()})
}

func (h *Handler) AddChordHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	added, err := s.AddChord(req.Name)
	if err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"added": added, "studio": s.View()})
}

func (h *Handler) RemoveChordHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid chord index.")
		return
	}
	removed, err := s.RemoveChord(index)
	if err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed, "studio": s.View()})
}

func (h *Handler) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	var patch studio.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	settings, err := s.UpdateSettings(patch)
	if err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settings": settings, "studio": s.View()})
}

// PlaybackHandler 生成/播放/暂停或停止
func (h *Handler) PlaybackHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	var (
		snap playback.Snapshot
		err  error
	)
	if mux.Vars(r)["action"] == "stop" {
		snap, err = s.Stop()
	} else {
		snap, err = s.Toggle()
	}
	if err != nil {
		studioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ExportMIDIHandler 导出标准 MIDI 文件
func (h *Handler) ExportMIDIHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := h.studioFor(w, r)
	if !ok {
		return
	}
	data, err := s.ExportMIDI()
	if err != nil {
		studioError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/midi")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="musicflow-%s.mid"`, s.ID))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.Warn("[Studio] 写入 MIDI 失败", logger.String("studio", s.ID), logger.ErrorField(err))
	}
}

// StudioWebSocketHandler 订阅工作室的渲染和播放事件。浏览器会带上会话
// Cookie，其他客户端可以用 ?token= 传令牌
func (h *Handler) StudioWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	studioID := mux.Vars(r)["id"]

	token := sessionToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "缺少认证信息", http.StatusUnauthorized)
		return
	}
	claims, err := h.tokens.ParseToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	if _, err := h.studios.Get(studioID, claims.UserID); err != nil {
		studioError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[Studio] WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	client := studio.NewClient(h.hub, conn, studioID, claims.UserID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(context.Background(), h.studios.HandleMessage)

	logger.Debug("[Studio] WebSocket 已连接",
		logger.String("studio", studioID),
		logger.Int64("userId", claims.UserID))
}

// studioFor 查找当前用户的工作室，失败时已写入响应
func (h *Handler) studioFor(w http.ResponseWriter, r *http.Request) (*studio.Studio, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, false
	}
	s, err := h.studios.Get(mux.Vars(r)["id"], userID)
	if err != nil {
		studioError(w, err)
		return nil, false
	}
	return s, true
}

func studioError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, studio.ErrNotFound):
		writeError(w, http.StatusNotFound, "Studio not found.")
	case errors.Is(err, studio.ErrForbidden):
		writeError(w, http.StatusForbidden, "This studio belongs to another user.")
	case errors.Is(err, studio.ErrClosed):
		writeError(w, http.StatusGone, "This studio has been closed.")
	case errors.Is(err, studio.ErrLimitReached):
		writeError(w, http.StatusTooManyRequests, "Too many open studios. Close one first.")
	case errors.Is(err, composition.ErrInvalidPitch):
		writeError(w, http.StatusBadRequest, "Unknown note name.")
	case errors.Is(err, playback.ErrNothingToPlay):
		writeError(w, http.StatusBadRequest, "Add some notes or chords first!")
	default:
		logger.Error("[Studio] 请求失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
	}
}
