package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"MusicFlow/core/auth"
	"MusicFlow/logger"
	"MusicFlow/model"
	"MusicFlow/repository"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
)

// browserSessionTTL 是未勾选"记住我"时令牌的有效期，Cookie 随浏览器关闭失效
const browserSessionTTL = 24 * time.Hour

const (
	msgLoginSuccess   = "Welcome back! You have signed in successfully."
	msgLoginInvalid   = "Invalid username/email or password."
	msgLoginDisabled  = "Your account is disabled. Please contact support."
	msgFixErrors      = "Please correct the errors below."
	msgAcceptPolicies = "You must accept both Terms & Conditions and Privacy Policy."
	msgSignupSuccess  = "Account created successfully!"
	msgLogoutSuccess  = "Logged out successfully."
	msgServerError    = "Something went wrong. Please try again."
)

// RegisterAuthRoutes 注册登录、注册、登出路由
func RegisterAuthRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/api/auth/login", h.RateLimit(h.LoginHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/signup", h.RateLimit(h.SignupHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/logout", h.LogoutHandler).Methods(http.MethodPost)
}

// CSRFHandler 下发 csrftoken Cookie 和本次请求的令牌，Cookie 已有时沿用
func (h *Handler) CSRFHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": csrf.Token(r)})
}

// SuccessHandler 读取并清除成功页的信息
func (h *Handler) SuccessHandler(w http.ResponseWriter, r *http.Request) {
	s := h.pages.TakeSuccess(r.Context(), clientID(r.Context()))
	writeJSON(w, http.StatusOK, s)
}

// LoginHandler handles user login
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	vals, err := readForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	form := auth.LoginForm{
		Username:   vals.Get("username"),
		Password:   vals.Get("password"),
		RememberMe: formBool(vals.Get("remember_me")),
	}
	if errs := form.Validate(); !errs.Empty() {
		writeFormErrors(w, msgLoginInvalid, errs)
		return
	}

	user, err := h.users.GetByLogin(r.Context(), form.Username)
	if err != nil {
		logger.Error("[Login] 查询用户失败", logger.String("login", form.Username), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	if user == nil || !auth.CheckPasswordHash(form.Password, user.PasswordHash) {
		logger.Warn("[Login] 用户名或密码错误", logger.String("login", form.Username), logger.String("ip", remoteIP(r)))
		writeError(w, http.StatusUnauthorized, msgLoginInvalid)
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusForbidden, msgLoginDisabled)
		return
	}

	if err := h.startSession(w, user, form.RememberMe); err != nil {
		logger.Error("[Login] 生成令牌失败", logger.Int64("userId", user.ID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	if err := h.users.TouchLastLogin(r.Context(), user.ID, h.clock.Now()); err != nil {
		logger.Warn("[Login] 更新登录时间失败", logger.Int64("userId", user.ID), logger.ErrorField(err))
	}
	h.handOff(r, msgLoginSuccess, "index.html")

	logger.Info("[Login] 登录成功", logger.Int64("userId", user.ID), logger.String("username", user.Username))
	writeJSON(w, http.StatusOK, Response{Success: true, Message: msgLoginSuccess, RedirectURL: "success.html"})
}

// SignupHandler handles user registration
func (h *Handler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	vals, err := readForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	form := auth.SignupForm{
		Username:        vals.Get("username"),
		Email:           vals.Get("email"),
		Password:        vals.Get("password"),
		ConfirmPassword: vals.Get("confirm_password"),
		AcceptTerms:     formBool(vals.Get("accept_terms")),
		AcceptPrivacy:   formBool(vals.Get("accept_privacy")),
	}
	errs := form.Validate()
	if len(errs["username"]) == 0 {
		taken, err := h.users.ExistsUsername(r.Context(), form.Username)
		if err != nil {
			logger.Error("[Signup] 检查用户名失败", logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, msgServerError)
			return
		}
		if taken {
			errs.Add("username", "unique", "A user with that username already exists.")
		}
	}
	if len(errs["email"]) == 0 {
		taken, err := h.users.ExistsEmail(r.Context(), form.Email, 0)
		if err != nil {
			logger.Error("[Signup] 检查邮箱失败", logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, msgServerError)
			return
		}
		if taken {
			errs.Add("email", "unique", "An account with this email already exists.")
		}
	}
	if !errs.Empty() {
		writeFormErrors(w, signupErrorMessage(errs), errs)
		return
	}

	hash, err := auth.HashPassword(form.Password)
	if err != nil {
		logger.Error("[Signup] 密码加密失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	user := &model.User{
		Username:     form.Username,
		Email:        strings.ToLower(form.Email),
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			errs.Add(auth.NonFieldErrors, "unique", "Username or email already registered.")
			writeFormErrors(w, msgFixErrors, errs)
			return
		}
		logger.Error("[Signup] 创建用户失败", logger.String("username", form.Username), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	if err := h.startSession(w, user, false); err != nil {
		logger.Warn("[Signup] 自动登录失败", logger.Int64("userId", user.ID), logger.ErrorField(err))
	}
	h.handOff(r, "Account created successfully! Welcome to MusicFlow!", "index.html")

	logger.Info("[Signup] 注册成功", logger.Int64("userId", user.ID), logger.String("username", user.Username))
	writeJSON(w, http.StatusOK, Response{Success: true, Message: msgSignupSuccess, RedirectURL: "success.html"})
}

// signupErrorMessage 只有条款未勾选时给出专门提示
func signupErrorMessage(errs auth.FormErrors) string {
	for field := range errs {
		if field != "accept_terms" && field != "accept_privacy" {
			return msgFixErrors
		}
	}
	return msgAcceptPolicies
}

// LogoutHandler 清除会话
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, sessionCookie)
	h.handOff(r, msgLogoutSuccess, "login.html")
	writeJSON(w, http.StatusOK, Response{Success: true, Message: msgLogoutSuccess, RedirectURL: "success.html"})
}

// startSession 签发会话令牌，remember 决定 Cookie 是否持久
func (h *Handler) startSession(w http.ResponseWriter, user *model.User, remember bool) error {
	ttl := browserSessionTTL
	if remember {
		ttl = h.cfg.SessionTTL
	}
	token, err := h.tokens.GenerateToken(user.ID, user.Username, ttl)
	if err != nil {
		return err
	}
	cookie := &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		cookie.MaxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, cookie)
	return nil
}

// handOff 为成功页保存提示信息，失败只记录日志
func (h *Handler) handOff(r *http.Request, message, redirect string) {
	if err := h.pages.SetSuccess(r.Context(), clientID(r.Context()), message, redirect); err != nil {
		logger.Warn("[PageState] 保存成功信息失败", logger.ErrorField(err))
	}
}
