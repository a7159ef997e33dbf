package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"MusicFlow/core/auth"
	"MusicFlow/logger"
	"MusicFlow/model"
	"MusicFlow/repository"

	"github.com/gorilla/mux"
)

const msgProfileUpdated = "Profile updated successfully!"

const (
	msgInvalidPicture = "Please upload a valid image file."
	msgBodyTooLarge   = "Invalid form data or file too large."
)

var (
	errInvalidPicture  = errors.New("invalid image upload")
	errPictureTooLarge = errors.New("image exceeds size limit")
)

// RegisterProfileRoutes 注册资料和面板路由
func RegisterProfileRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/api/profile", h.AuthMiddleware(h.GetProfileHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/profile", h.AuthMiddleware(h.UpdateProfileHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/dashboard", h.AuthMiddleware(h.GetDashboardHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/dashboard/settings", h.AuthMiddleware(h.DashboardSettingsHandler)).Methods(http.MethodPost)
}

// GetProfileHandler 返回当前用户资料
func (h *Handler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, profile, ok := h.loadProfile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"profile": h.profileView(user, profile),
	})
}

// UpdateProfileHandler 更新资料，可同时上传或删除头像
func (h *Handler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPictureBytes+maxMultipartMemory)
	vals, err := readForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgBodyTooLarge)
		return
	}
	user, profile, ok := h.loadProfile(w, r)
	if !ok {
		return
	}

	form := auth.ProfileForm{
		FirstName:  vals.Get("first_name"),
		LastName:   vals.Get("last_name"),
		Email:      vals.Get("email"),
		Phone:      vals.Get("phone"),
		Profession: vals.Get("profession"),
		Genre:      vals.Get("genre"),
		Instrument: vals.Get("instrument"),
		Level:      vals.Get("level"),
		Bio:        vals.Get("bio"),
	}
	errs := form.Validate()
	emailChanged := form.Email != "" && form.Email != strings.ToLower(user.Email)
	if emailChanged && len(errs["email"]) == 0 {
		taken, err := h.users.ExistsEmail(r.Context(), form.Email, user.ID)
		if err != nil {
			logger.Error("[Profile] 检查邮箱失败", logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, msgServerError)
			return
		}
		if taken {
			errs.Add("email", "unique", "This email is already in use by another account.")
		}
	}

	picture, err := h.readPicture(r)
	if err != nil {
		errs.Add("profile_picture", "invalid", h.pictureMessage(err))
	}
	if picture != nil {
		defer picture.file.Close()
	}
	if !errs.Empty() {
		writeFormErrors(w, msgFixErrors, errs)
		return
	}

	if emailChanged {
		if err := h.users.UpdateEmail(r.Context(), user.ID, form.Email); err != nil {
			if errors.Is(err, repository.ErrDuplicateUser) {
				errs.Add("email", "unique", "This email is already in use by another account.")
				writeFormErrors(w, msgFixErrors, errs)
				return
			}
			logger.Error("[Profile] 更新邮箱失败", logger.Int64("userId", user.ID), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, msgServerError)
			return
		}
		user.Email = form.Email
	}

	oldKey := profile.ProfilePicture
	newKey := ""
	if picture != nil {
		newKey, err = h.avatars.Put(r.Context(), user.ID, picture.header.Filename, picture.contentType, picture.file, picture.header.Size)
		if err != nil {
			logger.Error("[Profile] 上传头像失败", logger.Int64("userId", user.ID), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "Failed to upload profile picture.")
			return
		}
	}

	profile.FirstName = form.FirstName
	profile.LastName = form.LastName
	profile.Phone = form.Phone
	profile.Profession = form.Profession
	profile.Genre = form.Genre
	profile.Instrument = form.Instrument
	profile.Level = form.Level
	profile.Bio = form.Bio
	switch {
	case newKey != "":
		profile.ProfilePicture = newKey
	case formBool(vals.Get("remove_picture")):
		profile.ProfilePicture = ""
	}

	if err := h.profiles.Update(r.Context(), profile); err != nil {
		logger.Error("[Profile] 保存资料失败", logger.Int64("userId", user.ID), logger.ErrorField(err))
		h.removeAvatar(r.Context(), newKey)
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	if oldKey != "" && oldKey != profile.ProfilePicture {
		h.removeAvatar(r.Context(), oldKey)
	}

	logger.Info("[Profile] 资料已更新", logger.Int64("userId", user.ID))
	view := h.profileView(user, profile)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":             true,
		"message":             msgProfileUpdated,
		"profile_picture_url": view.ProfilePictureURL,
		"profile":             view,
	})
}

type uploadedPicture struct {
	file        multipart.File
	header      *multipart.FileHeader
	contentType string
}

// readPicture 读取可选的头像文件，必须是不超过上限的图片
func (h *Handler) readPicture(r *http.Request) (*uploadedPicture, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, header, err := r.FormFile("profile_picture")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errInvalidPicture
	}
	if header.Size > h.cfg.MaxPictureBytes {
		file.Close()
		return nil, errPictureTooLarge
	}

	sniff := make([]byte, 512)
	n, _ := io.ReadFull(file, sniff)
	detected := http.DetectContentType(sniff[:n])
	declared := header.Header.Get("Content-Type")
	if !strings.HasPrefix(declared, "image/") || !strings.HasPrefix(detected, "image/") {
		file.Close()
		return nil, errInvalidPicture
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, errInvalidPicture
	}
	return &uploadedPicture{file: file, header: header, contentType: detected}, nil
}

// pictureMessage 把头像错误转换成表单提示
func (h *Handler) pictureMessage(err error) string {
	if errors.Is(err, errPictureTooLarge) {
		return fmt.Sprintf("Image must be %d MB or smaller.", h.cfg.MaxPictureBytes>>20)
	}
	return msgInvalidPicture
}

func (h *Handler) removeAvatar(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := h.avatars.Remove(ctx, key); err != nil {
		logger.Warn("[Profile] 删除头像失败", logger.String("key", key), logger.ErrorField(err))
	}
}

// loadProfile 读取当前用户和资料，失败时已写入响应
func (h *Handler) loadProfile(w http.ResponseWriter, r *http.Request) (*model.User, *model.Profile, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, nil, false
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		logger.Error("[Profile] 查询用户失败", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return nil, nil, false
	}
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, Response{Error: "Please log in to continue.", RedirectURL: "login.html"})
		return nil, nil, false
	}
	profile, err := h.profiles.GetByUserID(r.Context(), userID)
	if err != nil {
		logger.Error("[Profile] 查询资料失败", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return nil, nil, false
	}
	return user, profile, true
}

func (h *Handler) profileView(user *model.User, p *model.Profile) model.ProfileView {
	v := model.ProfileView{
		Username:     user.Username,
		Email:        user.Email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Phone:        p.Phone,
		Profession:   p.Profession,
		Genre:        p.Genre,
		Instrument:   p.Instrument,
		Level:        p.Level,
		Bio:          p.Bio,
		LastModified: p.UpdatedAt,
	}
	if p.ProfilePicture != "" {
		v.ProfilePictureURL = h.avatars.URL(p.ProfilePicture)
	}
	return v
}

// GetDashboardHandler 返回面板设置
func (h *Handler) GetDashboardHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	dashboard, err := h.dashboards.GetByUserID(r.Context(), userID)
	if err != nil {
		logger.Error("[Dashboard] 查询面板失败", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "dashboard": dashboard})
}

// DashboardSettingsHandler 切换页面主题
func (h *Handler) DashboardSettingsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	vals, err := readForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	theme := strings.ToLower(strings.TrimSpace(vals.Get("page_theme")))
	if !model.ValidTheme(theme) {
		writeError(w, http.StatusBadRequest, "Invalid theme.")
		return
	}
	if err := h.dashboards.UpdateTheme(r.Context(), userID, theme); err != nil {
		logger.Error("[Dashboard] 更新主题失败", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}
	logger.Debug("[Dashboard] 主题已更新", logger.Int64("userId", userID), logger.String("theme", theme))
	writeJSON(w, http.StatusOK, Response{Success: true, Message: fmt.Sprintf("Theme updated to %s.", theme)})
}
