// Package reset implements the password reset flow: an e-mailed QR link
// ("trigger" token) that, once opened, mails a six digit code which is then
// exchanged for a new password.
package reset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"MusicFlow/core/auth"
	"MusicFlow/core/clock"
	"MusicFlow/logger"
	"MusicFlow/model"
)

var (
	ErrUnknownEmail    = errors.New("no account found with that email")
	ErrTokenExpired    = errors.New("QR expired or invalid, please generate a new one")
	ErrInvalidCode     = errors.New("invalid or expired code, please try again")
	ErrTooManyAttempts = errors.New("too many wrong codes, please request a new one")
	ErrNoSession       = errors.New("session expired, please restart the reset process")
)

// Users is the part of the user store the flow needs. Lookups return
// (nil, nil) when nothing matches.
type Users interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
}

type Config struct {
	QRTimeout   time.Duration
	CodeTimeout time.Duration
	MaxAttempts int
	// BaseURL prefixes the trigger link put in the QR mail.
	BaseURL string
}

// Ticket describes an issued trigger link.
type Ticket struct {
	UserID     int64     `json:"-"`
	Username   string    `json:"user_display"`
	Token      string    `json:"-"`
	TriggerURL string    `json:"trigger_url"`
	// QRBase64 is the PNG QR code of TriggerURL.
	QRBase64   string    `json:"qr_base64"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Status tells the verify page what to show.
type Status struct {
	ShowQR    bool   `json:"show_qr"`
	CodeReady bool   `json:"code_ready"`
	// QRBase64 is set while ShowQR is true and the link is still live.
	QRBase64  string `json:"qr_base64,omitempty"`
}

// Service runs the reset flow. At most one trigger link is live per user:
// issuing a new one revokes the previous link and cancels its expiry timer.
type Service struct {
	store  Store
	users  Users
	mailer Mailer
	clock  clock.Clock
	cfg    Config

	randMu sync.Mutex
	rand   *rand.Rand

	mu      sync.Mutex
	pending map[int64]pendingLink
}

type pendingLink struct {
	token string
	qr    string
	timer clock.Timer
}

// NewService wires the flow. rnd supplies the verification codes; nil seeds
// one from the clock.
func NewService(store Store, users Users, mailer Mailer, c clock.Clock, rnd *rand.Rand, cfg Config) *Service {
	if c == nil {
		c = clock.Real()
	}
	if mailer == nil {
		mailer = LogMailer{}
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(c.Now().UnixNano()))
	}
	if cfg.QRTimeout <= 0 {
		cfg.QRTimeout = 2 * time.Minute
	}
	if cfg.CodeTimeout <= 0 {
		cfg.CodeTimeout = 2 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Service{
		store:   store,
		users:   users,
		mailer:  mailer,
		clock:   c,
		rand:    rnd,
		cfg:     cfg,
		pending: make(map[int64]pendingLink),
	}
}

// Request starts a reset for the account registered with email.
func (s *Service) Request(ctx context.Context, email string) (*Ticket, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}
	if user == nil {
		return nil, ErrUnknownEmail
	}
	return s.issue(ctx, user, "Scan to Reset Password")
}

// Resend issues a fresh trigger link for a reset already in progress.
func (s *Service) Resend(ctx context.Context, userID int64) (*Ticket, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrNoSession
	}
	return s.issue(ctx, user, "Scan to Reset Password (New QR)")
}

func (s *Service) issue(ctx context.Context, user *model.User, subject string) (*Ticket, error) {
	token := uuid.NewString()
	triggerURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/api/auth/reset/trigger/" + token
	qr, err := RenderQR(triggerURL)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveToken(ctx, token, user.ID, s.cfg.QRTimeout); err != nil {
		return nil, fmt.Errorf("save reset token: %w", err)
	}
	s.arm(ctx, user.ID, token, qr)

	ticket := &Ticket{
		UserID:     user.ID,
		Username:   user.Username,
		Token:      token,
		TriggerURL: triggerURL,
		QRBase64:   qr,
		ExpiresAt:  s.clock.Now().Add(s.cfg.QRTimeout),
	}
	err = s.mailer.Send(ctx, Mail{
		To:      user.Email,
		Subject: subject,
		Body:    fmt.Sprintf("Scan the QR code or open %s to get your reset code. Valid for 2 minutes.", triggerURL),
		HTML:    qrMailHTML(qr),
	})
	if err != nil {
		return nil, fmt.Errorf("send reset mail: %w", err)
	}
	logger.Info("[Reset] 已发送重置二维码", logger.Int64("userId", user.ID))
	return ticket, nil
}

// arm replaces the user's pending link and its expiry timer.
func (s *Service) arm(ctx context.Context, userID int64, token, qr string) {
	s.mu.Lock()
	prev, had := s.pending[userID]
	link := pendingLink{token: token, qr: qr}
	link.timer = s.clock.AfterFunc(s.cfg.QRTimeout, func() { s.expire(userID, token) })
	s.pending[userID] = link
	s.mu.Unlock()

	if had {
		prev.timer.Stop()
		if err := s.store.DeleteToken(ctx, prev.token); err != nil {
			logger.Warn("[Reset] 删除旧令牌失败", logger.ErrorField(err))
		}
	}
}

func (s *Service) expire(userID int64, token string) {
	s.mu.Lock()
	link, ok := s.pending[userID]
	if !ok || link.token != token {
		s.mu.Unlock()
		return
	}
	delete(s.pending, userID)
	s.mu.Unlock()

	if err := s.store.DeleteToken(context.Background(), token); err != nil {
		logger.Warn("[Reset] 删除过期令牌失败", logger.ErrorField(err))
	}
	logger.Debug("[Reset] 二维码已过期", logger.Int64("userId", userID))
}

// Trigger consumes a trigger link and mails a fresh verification code.
func (s *Service) Trigger(ctx context.Context, token string) error {
	userID, err := s.store.TakeToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return ErrTokenExpired
	}
	if err != nil {
		return fmt.Errorf("read reset token: %w", err)
	}
	s.disarm(userID, token)

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return ErrTokenExpired
	}

	code := s.newCode()
	hash, err := auth.HashCode(code)
	if err != nil {
		return err
	}
	if err := s.store.SaveCode(ctx, userID, hash, s.cfg.CodeTimeout); err != nil {
		return fmt.Errorf("save reset code: %w", err)
	}
	err = s.mailer.Send(ctx, Mail{
		To:      user.Email,
		Subject: "Your MusicFlow Reset Code",
		Body:    fmt.Sprintf("Your code is: %s (valid for 2 minutes only)", code),
	})
	if err != nil {
		return fmt.Errorf("send code mail: %w", err)
	}
	logger.Info("[Reset] 验证码已发送", logger.Int64("userId", userID))
	return nil
}

func (s *Service) disarm(userID int64, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link, ok := s.pending[userID]; ok && link.token == token {
		link.timer.Stop()
		delete(s.pending, userID)
	}
}

func (s *Service) newCode() string {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return fmt.Sprintf("%06d", 100000+s.rand.Intn(900000))
}

// Status reports whether a code has been issued for the user.
func (s *Service) Status(ctx context.Context, userID int64) (Status, error) {
	_, _, err := s.store.Code(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		st := Status{ShowQR: true}
		s.mu.Lock()
		if link, ok := s.pending[userID]; ok {
			st.QRBase64 = link.qr
		}
		s.mu.Unlock()
		return st, nil
	case err != nil:
		return Status{}, fmt.Errorf("read reset code: %w", err)
	}
	return Status{CodeReady: true}, nil
}

// Verify checks code and, when it matches, sets the new password. After
// MaxAttempts wrong codes the code is discarded.
func (s *Service) Verify(ctx context.Context, userID int64, code, newPassword string) error {
	hash, attempts, err := s.store.Code(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidCode
	}
	if err != nil {
		return fmt.Errorf("read reset code: %w", err)
	}
	if attempts >= s.cfg.MaxAttempts {
		_ = s.store.DeleteCode(ctx, userID)
		return ErrTooManyAttempts
	}

	if !auth.CheckPasswordHash(code, hash) {
		n, err := s.store.FailAttempt(ctx, userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		logger.Warn("[Reset] 验证码错误", logger.Int64("userId", userID), logger.Int("attempts", n))
		if n >= s.cfg.MaxAttempts {
			_ = s.store.DeleteCode(ctx, userID)
			return ErrTooManyAttempts
		}
		return ErrInvalidCode
	}

	pwHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, pwHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.store.DeleteCode(ctx, userID); err != nil {
		logger.Warn("[Reset] 删除验证码失败", logger.ErrorField(err))
	}
	s.cancel(userID)
	logger.Info("[Reset] 密码重置成功", logger.Int64("userId", userID))
	return nil
}

func (s *Service) cancel(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link, ok := s.pending[userID]; ok {
		link.timer.Stop()
		delete(s.pending, userID)
	}
}

// Close cancels every pending expiry timer.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, link := range s.pending {
		link.timer.Stop()
		delete(s.pending, id)
	}
}

// Pending returns the number of live trigger links.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
