package auth

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MinPasswordLength = 6
	MaxBioLength      = 500

	// NonFieldErrors collects errors that belong to the form as a whole.
	NonFieldErrors = "__all__"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	codePattern   = regexp.MustCompile(`^\d{6}$`)
)

func ValidEmail(s string) bool  { return emailPattern.MatchString(s) }
func ValidUserID(s string) bool { return userIDPattern.MatchString(s) }
func ValidCode(s string) bool   { return codePattern.MatchString(s) }

// FieldError is one message attached to a form field.
type FieldError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// FormErrors maps field names to their errors.
type FormErrors map[string][]FieldError

// Add appends an error to field.
func (f FormErrors) Add(field, code, message string) {
	f[field] = append(f[field], FieldError{Message: message, Code: code})
}

func (f FormErrors) Empty() bool { return len(f) == 0 }

// JSON encodes the errors as a JSON string, the shape the browser forms
// expect in the form_errors response field.
func (f FormErrors) JSON() string {
	b, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// LoginForm is the sign-in form. Username may also be an e-mail address.
type LoginForm struct {
	Username   string
	Password   string
	RememberMe bool
}

func (l *LoginForm) Validate() FormErrors {
	errs := FormErrors{}
	l.Username = strings.TrimSpace(l.Username)
	if l.Username == "" {
		errs.Add("username", "required", "Please enter your username or email.")
	}
	if l.Password == "" {
		errs.Add("password", "required", "Please enter your password.")
	}
	return errs
}

// SignupForm is the registration form.
type SignupForm struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	AcceptTerms     bool
	AcceptPrivacy   bool
}

// Validate checks the fields on their own. Uniqueness of username and e-mail
// needs the user store and is added by the caller.
func (s *SignupForm) Validate() FormErrors {
	errs := FormErrors{}
	s.Username = strings.TrimSpace(s.Username)
	s.Email = strings.TrimSpace(s.Email)

	switch {
	case s.Username == "":
		errs.Add("username", "required", "This field is required.")
	case !ValidUserID(s.Username):
		errs.Add("username", "invalid", "User ID must be 3-20 characters: letters, numbers and underscores only.")
	}

	switch {
	case s.Email == "":
		errs.Add("email", "required", "This field is required.")
	case !ValidEmail(s.Email):
		errs.Add("email", "invalid", "Enter a valid email address.")
	}

	switch {
	case s.Password == "":
		errs.Add("password", "required", "This field is required.")
	case utf8.RuneCountInString(s.Password) < MinPasswordLength:
		errs.Add("password", "min_length", "Password must be at least 6 characters long.")
	}

	if s.ConfirmPassword == "" {
		errs.Add("confirm_password", "required", "This field is required.")
	} else if s.Password != "" && s.Password != s.ConfirmPassword {
		errs.Add(NonFieldErrors, "mismatch", "Passwords do not match.")
	}

	if !s.AcceptTerms {
		errs.Add("accept_terms", "required", "You must accept the Terms & Conditions.")
	}
	if !s.AcceptPrivacy {
		errs.Add("accept_privacy", "required", "You must accept the Privacy Policy.")
	}
	return errs
}

// ResetRequestForm starts a password reset.
type ResetRequestForm struct {
	Email string
}

func (r *ResetRequestForm) Validate() FormErrors {
	errs := FormErrors{}
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	switch {
	case r.Email == "":
		errs.Add("email", "required", "Please enter your email address.")
	case !ValidEmail(r.Email):
		errs.Add("email", "invalid", "Enter a valid email address.")
	}
	return errs
}

// ResetConfirmForm carries the verification code and the new password.
type ResetConfirmForm struct {
	Code            string
	Password        string
	PasswordConfirm string
}

func (r *ResetConfirmForm) Validate() FormErrors {
	errs := FormErrors{}
	r.Code = strings.TrimSpace(r.Code)
	if !ValidCode(r.Code) {
		errs.Add("code", "invalid", "Must be a 6-digit code.")
	}
	switch {
	case r.Password == "":
		errs.Add("password", "required", "This field is required.")
	case utf8.RuneCountInString(r.Password) < MinPasswordLength:
		errs.Add("password", "min_length", "Password must be at least 6 characters long.")
	}
	if r.Password != r.PasswordConfirm {
		errs.Add(NonFieldErrors, "mismatch", "Passwords do not match.")
	}
	return errs
}
