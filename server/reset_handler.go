package server

import (
	"errors"
	"net/http"

	"MusicFlow/core/auth"
	"MusicFlow/core/pagestate"
	"MusicFlow/core/reset"
	"MusicFlow/logger"

	"github.com/gorilla/mux"
)

const (
	msgResetSent     = "QR code sent! Scan it within 2 minutes."
	msgResetResent   = "New QR sent! Check your mail."
	msgResetCodeSent = "Please check your mail. A code has been sent!"
	msgResetDone     = "Password reset successful! You can now log in."
	msgResetExpired  = "Session expired. Please restart reset process."
)

// RegisterResetRoutes 注册密码重置路由
func RegisterResetRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/api/auth/reset", h.RateLimit(h.ResetRequestHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/reset/trigger/{token}", h.ResetTriggerHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/reset/resend", h.RateLimit(h.ResetResendHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/reset/status", h.ResetStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/auth/reset/verify", h.RateLimit(h.ResetVerifyHandler)).Methods(http.MethodPost)
}

// ResetRequestHandler 按邮箱发起重置，发送二维码邮件
func (h *Handler) ResetRequestHandler(w http.ResponseWriter, r *http.Request) {
	vals, err := readForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	form := auth.ResetRequestForm{Email: vals.Get("email")}
	if errs := form.Validate(); !errs.Empty() {
		writeFormErrors(w, msgFixErrors, errs)
		return
	}

	ticket, err := h.resets.Request(r.Context(), form.Email)
	if errors.Is(err, reset.ErrUnknownEmail) {
		writeError(w, http.StatusNotFound, "No account found with that email.")
		return
	}
	if err != nil {
		logger.Error("[Reset] 发起重置失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	h.startResetSession(w, r, ticket)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      msgResetSent,
		"redirect_url": "reset_verify.html",
		"ticket":       ticket,
	})
}

// ResetTriggerHandler 二维码链接被打开后发送验证码
func (h *Handler) ResetTriggerHandler(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	err := h.resets.Trigger(r.Context(), token)
	if errors.Is(err, reset.ErrTokenExpired) {
		writeError(w, http.StatusGone, "QR expired or invalid. Please generate a new one.")
		return
	}
	if err != nil {
		logger.Error("[Reset] 处理二维码失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: msgResetCodeSent})
}

// ResetResendHandler 重新发送二维码，旧链接立即失效
func (h *Handler) ResetResendHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resetUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{Error: msgResetExpired, RedirectURL: "reset.html"})
		return
	}
	ticket, err := h.resets.Resend(r.Context(), userID)
	if errors.Is(err, reset.ErrNoSession) {
		writeJSON(w, http.StatusUnauthorized, Response{Error: msgResetExpired, RedirectURL: "reset.html"})
		return
	}
	if err != nil {
		logger.Error("[Reset] 重新发送失败", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	h.startResetSession(w, r, ticket)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": msgResetResent,
		"ticket":  ticket,
	})
}

// ResetStatusHandler 告诉验证页显示二维码还是验证码输入框
func (h *Handler) ResetStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resetUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{Error: msgResetExpired, RedirectURL: "reset.html"})
		return
	}
	status, err := h.resets.Status(r.Context(), userID)
	if err != nil {
		logger.Error("[Reset] 查询状态失败", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	display, _ := h.pages.Get(r.Context(), clientID(r.Context()), pagestate.KeyResetUserID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"user_display": display,
		"show_qr":      status.ShowQR,
		"code_ready":   status.CodeReady,
		"qr_base64":    status.QRBase64,
	})
}

// ResetVerifyHandler 校验验证码并设置新密码
func (h *Handler) ResetVerifyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resetUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Response{Error: msgResetExpired, RedirectURL: "reset.html"})
		return
	}
	vals, err := readForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	form := auth.ResetConfirmForm{
		Code:            vals.Get("code"),
		Password:        vals.Get("password"),
		PasswordConfirm: vals.Get("password_confirm"),
	}
	if errs := form.Validate(); !errs.Empty() {
		writeFormErrors(w, msgFixErrors, errs)
		return
	}

	err = h.resets.Verify(r.Context(), userID, form.Code, form.Password)
	switch {
	case errors.Is(err, reset.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "Invalid or expired code. Please try again.")
		return
	case errors.Is(err, reset.ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, Response{Error: "Too many wrong codes. Please request a new one.", RedirectURL: "reset.html"})
		return
	case err != nil:
		logger.Error("[Reset] 重置密码失败", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	h.clearCookie(w, resetCookie)
	if err := h.pages.FinishReset(r.Context(), clientID(r.Context())); err != nil {
		logger.Warn("[PageState] 清除重置状态失败", logger.ErrorField(err))
	}
	h.handOff(r, msgResetDone, "login.html")
	writeJSON(w, http.StatusOK, Response{Success: true, Message: msgResetDone, RedirectURL: "success.html"})
}

// startResetSession 用短期令牌记住正在重置的账号
func (h *Handler) startResetSession(w http.ResponseWriter, r *http.Request, ticket *reset.Ticket) {
	token, err := h.resetTokens.GenerateToken(ticket.UserID, ticket.Username, 0)
	if err != nil {
		logger.Error("[Reset] 生成重置会话失败", logger.ErrorField(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     resetCookie,
		Value:    token,
		Path:     "/api/auth/reset",
		MaxAge:   int(resetSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	if err := h.pages.StartReset(r.Context(), clientID(r.Context()), ticket.Username); err != nil {
		logger.Warn("[PageState] 保存重置状态失败", logger.ErrorField(err))
	}
}

func (h *Handler) resetUser(r *http.Request) (int64, bool) {
	c, err := r.Cookie(resetCookie)
	if err != nil || c.Value == "" {
		return 0, false
	}
	claims, err := h.resetTokens.ParseToken(c.Value)
	if err != nil {
		return 0, false
	}
	return claims.UserID, true
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	path := "/"
	if name == resetCookie {
		path = "/api/auth/reset"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
