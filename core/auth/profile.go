package auth

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ProfileForm is the editable part of a profile plus the account e-mail.
type ProfileForm struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Profession string
	Genre      string
	Instrument string
	Level      string
	Bio        string
}

var profileLimits = []struct {
	field string
	max   int
	value func(*ProfileForm) string
}{
	{"first_name", 30, func(p *ProfileForm) string { return p.FirstName }},
	{"last_name", 30, func(p *ProfileForm) string { return p.LastName }},
	{"phone", 20, func(p *ProfileForm) string { return p.Phone }},
	{"profession", 100, func(p *ProfileForm) string { return p.Profession }},
	{"genre", 50, func(p *ProfileForm) string { return p.Genre }},
	{"instrument", 50, func(p *ProfileForm) string { return p.Instrument }},
	{"level", 20, func(p *ProfileForm) string { return p.Level }},
	{"bio", MaxBioLength, func(p *ProfileForm) string { return p.Bio }},
}

// Validate trims the fields and checks their lengths and the e-mail format.
// An empty e-mail keeps the current one.
func (p *ProfileForm) Validate() FormErrors {
	for _, s := range []*string{&p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.Profession, &p.Genre, &p.Instrument, &p.Level, &p.Bio} {
		*s = strings.TrimSpace(*s)
	}
	p.Email = strings.ToLower(p.Email)

	errs := FormErrors{}
	for _, l := range profileLimits {
		if utf8.RuneCountInString(l.value(p)) > l.max {
			errs.Add(l.field, "max_length", fmt.Sprintf("Ensure this value has at most %d characters.", l.max))
		}
	}
	if p.Email != "" && !ValidEmail(p.Email) {
		errs.Add("email", "invalid", "Enter a valid email address.")
	}
	return errs
}
