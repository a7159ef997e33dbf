// Package pagestate keeps the small per-browser values the pages hand to
// each other (success messages, the pending reset, sidebar and volume).
// Everything here is best effort: a failed or corrupt read yields the default.
package pagestate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"MusicFlow/core/clock"
	"MusicFlow/logger"
)

const (
	KeySuccessMessage   = "successMessage"
	KeyRedirectURL      = "redirectUrl"
	KeySuccessTimestamp = "successTimestamp"
	KeyResetUserID      = "resetUserId"
	KeyResetRequestTime = "resetRequestTime"
	KeySidebarState     = "sidebarState"
	KeyVolume           = "musicflow_volume"

	maxValueLength = 512
)

var (
	ErrUnknownKey   = errors.New("unknown page state key")
	ErrInvalidValue = errors.New("invalid page state value")
)

type keyDef struct {
	def   string
	valid func(string) bool
}

var keys = map[string]keyDef{
	KeySuccessMessage:   {valid: anyText},
	KeyRedirectURL:      {valid: anyText},
	KeySuccessTimestamp: {valid: millis},
	KeyResetUserID:      {valid: anyText},
	KeyResetRequestTime: {valid: millis},
	KeySidebarState:     {def: "expanded", valid: oneOf("collapsed", "expanded")},
	KeyVolume:           {valid: percent},
}

// Keys lists the supported keys.
func Keys() []string {
	return []string{
		KeySuccessMessage, KeyRedirectURL, KeySuccessTimestamp,
		KeyResetUserID, KeyResetRequestTime, KeySidebarState, KeyVolume,
	}
}

// Known reports whether key is supported.
func Known(key string) bool {
	_, ok := keys[key]
	return ok
}

// Default is the value reported for key when nothing usable is stored.
func Default(key string) string {
	return keys[key].def
}

func anyText(s string) bool { return len(s) <= maxValueLength }

func millis(s string) bool {
	v, err := strconv.ParseInt(s, 10, 64)
	return err == nil && v >= 0
}

func percent(s string) bool {
	v, err := strconv.Atoi(s)
	return err == nil && v >= 0 && v <= 100
}

func oneOf(options ...string) func(string) bool {
	return func(s string) bool {
		for _, o := range options {
			if s == o {
				return true
			}
		}
		return false
	}
}

// Store persists values per client.
type Store interface {
	Get(ctx context.Context, client, key string) (string, bool, error)
	Set(ctx context.Context, client, key, value string) error
	Delete(ctx context.Context, client string, keys ...string) error
}

// Pages validates keys and values on top of a Store.
type Pages struct {
	store Store
	clock clock.Clock
}

func New(store Store, c clock.Clock) *Pages {
	if c == nil {
		c = clock.Real()
	}
	return &Pages{store: store, clock: c}
}

// Get returns the stored value or the key's default. Store failures and
// values that no longer validate are logged and treated as absent.
func (p *Pages) Get(ctx context.Context, client, key string) (string, error) {
	kd, ok := keys[key]
	if !ok {
		return "", ErrUnknownKey
	}
	v, found, err := p.store.Get(ctx, client, key)
	if err != nil {
		logger.Warn("[PageState] 读取失败，使用默认值", logger.String("key", key), logger.ErrorField(err))
		return kd.def, nil
	}
	if !found || !kd.valid(v) {
		return kd.def, nil
	}
	return v, nil
}

// Set stores value for key.
func (p *Pages) Set(ctx context.Context, client, key, value string) error {
	kd, ok := keys[key]
	if !ok {
		return ErrUnknownKey
	}
	if !kd.valid(value) {
		return fmt.Errorf("%w for %s", ErrInvalidValue, key)
	}
	return p.store.Set(ctx, client, key, value)
}

func (p *Pages) Delete(ctx context.Context, client string, keys ...string) error {
	for _, k := range keys {
		if !Known(k) {
			return ErrUnknownKey
		}
	}
	return p.store.Delete(ctx, client, keys...)
}

// All returns every key with its effective value.
func (p *Pages) All(ctx context.Context, client string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range Keys() {
		v, _ := p.Get(ctx, client, k)
		out[k] = v
	}
	return out
}

// SetSuccess records a message for the success page, stamped with the
// current time.
func (p *Pages) SetSuccess(ctx context.Context, client, message, redirect string) error {
	now := strconv.FormatInt(p.clock.Now().UnixMilli(), 10)
	for _, kv := range [][2]string{
		{KeySuccessMessage, message},
		{KeyRedirectURL, redirect},
		{KeySuccessTimestamp, now},
	} {
		if err := p.Set(ctx, client, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

// TakeSuccess resolves the success hand-off and clears it.
func (p *Pages) TakeSuccess(ctx context.Context, client string) Success {
	var raw [3]string
	var found [3]bool
	failed := false
	for i, k := range []string{KeySuccessMessage, KeyRedirectURL, KeySuccessTimestamp} {
		v, ok, err := p.store.Get(ctx, client, k)
		if err != nil {
			logger.Warn("[PageState] 读取成功信息失败", logger.String("key", k), logger.ErrorField(err))
			failed = true
			break
		}
		raw[i], found[i] = v, ok
	}

	var s Success
	if failed {
		s = Success{Message: WelcomeMessage, RedirectURL: DefaultRedirect, Stale: true}
	} else {
		s = ResolveSuccess(raw[0], found[0], raw[1], found[1], raw[2], found[2], p.clock.Now())
	}

	if err := p.store.Delete(ctx, client, KeySuccessMessage, KeyRedirectURL, KeySuccessTimestamp); err != nil {
		logger.Warn("[PageState] 清除成功信息失败", logger.ErrorField(err))
	}
	return s
}

// StartReset remembers which account is being reset and when.
func (p *Pages) StartReset(ctx context.Context, client, userDisplay string) error {
	if err := p.Set(ctx, client, KeyResetUserID, userDisplay); err != nil {
		return err
	}
	return p.Set(ctx, client, KeyResetRequestTime, strconv.FormatInt(p.clock.Now().UnixMilli(), 10))
}

// FinishReset forgets the pending reset.
func (p *Pages) FinishReset(ctx context.Context, client string) error {
	return p.Delete(ctx, client, KeyResetUserID, KeyResetRequestTime)
}

const (
	DefaultSuccessMessage = "Operation completed successfully!"
	WelcomeMessage        = "Welcome to MusicFlow!"
	DefaultRedirect       = "login.html"

	// SuccessFreshness is how long a success hand-off stays valid.
	SuccessFreshness = 5 * time.Minute
)

// Success is what the success page shows.
type Success struct {
	Message     string `json:"message"`
	RedirectURL string `json:"redirect_url"`
	Stale       bool   `json:"stale"`
}

// ResolveSuccess applies the success page rules: stored values win over the
// generic defaults, and a timestamp older than SuccessFreshness replaces both
// with the welcome defaults. A missing or unreadable timestamp is ignored.
func ResolveSuccess(message string, hasMessage bool, redirect string, hasRedirect bool, stamp string, hasStamp bool, now time.Time) Success {
	s := Success{Message: DefaultSuccessMessage, RedirectURL: DefaultRedirect}
	if hasMessage && message != "" {
		s.Message = message
	}
	if hasRedirect && redirect != "" {
		s.RedirectURL = redirect
	}
	if hasStamp {
		if ms, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			if now.Sub(time.UnixMilli(ms)) > SuccessFreshness {
				s = Success{Message: WelcomeMessage, RedirectURL: DefaultRedirect, Stale: true}
			}
		}
	}
	s.RedirectURL = normalizeRedirect(s.RedirectURL)
	return s
}

func normalizeRedirect(u string) string {
	if strings.Contains(u, "reset-verify") || strings.Contains(u, "reset_verify") {
		return "reset_verify.html"
	}
	return strings.TrimPrefix(u, "./")
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, client, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[client][key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, client, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[client] == nil {
		m.data[client] = make(map[string]string)
	}
	m.data[client][key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, client string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data[client], k)
	}
	return nil
}
