package server

import (
	"errors"
	"net/http"

	"MusicFlow/core/pagestate"
	"MusicFlow/logger"

	"github.com/gorilla/mux"
)

// RegisterPageStateRoutes 注册页面状态路由
func RegisterPageStateRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/api/pagestate", h.ListPageStateHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/pagestate/{key}", h.GetPageStateHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/pagestate/{key}", h.PutPageStateHandler).Methods(http.MethodPut)
	router.HandleFunc("/api/pagestate/{key}", h.DeletePageStateHandler).Methods(http.MethodDelete)
}

func (h *Handler) ListPageStateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pages.All(r.Context(), clientID(r.Context())))
}

func (h *Handler) GetPageStateHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, err := h.pages.Get(r.Context(), clientID(r.Context()), key)
	if err != nil {
		pageStateError(w, key, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (h *Handler) PutPageStateHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if err := h.pages.Set(r.Context(), clientID(r.Context()), key, body.Value); err != nil {
		pageStateError(w, key, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "key": key, "value": body.Value})
}

func (h *Handler) DeletePageStateHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := h.pages.Delete(r.Context(), clientID(r.Context()), key); err != nil {
		pageStateError(w, key, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func pageStateError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, pagestate.ErrUnknownKey):
		writeError(w, http.StatusNotFound, "Unknown page state key.")
	case errors.Is(err, pagestate.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, "Invalid value for "+key+".")
	default:
		logger.Warn("[PageState] 存储失败", logger.String("key", key), logger.ErrorField(err))
		writeError(w, http.StatusServiceUnavailable, "Page state is unavailable.")
	}
}
