package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"MusicFlow/core/auth"
	"MusicFlow/logger"
)

const (
	maxJSONBody        = 1 << 20
	maxMultipartMemory = 8 << 20
)

// Response 是表单接口的统一返回格式
type Response struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	// FormErrors 为 JSON 编码后的字段错误
	FormErrors string `json:"form_errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[HTTP] 写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Error: msg})
}

func writeFormErrors(w http.ResponseWriter, msg string, errs auth.FormErrors) {
	writeJSON(w, http.StatusBadRequest, Response{Error: msg, FormErrors: errs.JSON()})
}

// readForm 读取请求字段，兼容 JSON、urlencoded 和 multipart 三种提交方式
func readForm(r *http.Request) (url.Values, error) {
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var body map[string]interface{}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&body); err != nil {
			if errors.Is(err, io.EOF) {
				return url.Values{}, nil
			}
			return nil, err
		}
		vals := url.Values{}
		for k, v := range body {
			switch t := v.(type) {
			case nil:
			case string:
				vals.Set(k, t)
			case bool:
				vals.Set(k, strconv.FormatBool(t))
			case float64:
				vals.Set(k, strconv.FormatFloat(t, 'f', -1, 64))
			default:
				b, _ := json.Marshal(t)
				vals.Set(k, string(b))
			}
		}
		return vals, nil
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	default:
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	}
}

// formBool 解析复选框的值
func formBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// decodeJSON 解析 JSON 请求体
func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
}
