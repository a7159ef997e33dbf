package auth

type Strength string

const (
	Weak   Strength = "weak"
	Medium Strength = "medium"
	Strong Strength = "strong"
)

// Message is the hint shown next to the strength bar.
func (s Strength) Message() string {
	switch s {
	case Strong:
		return "Strong - Great password!"
	case Medium:
		return "Medium - Consider adding special characters"
	default:
		return "Weak - Add more characters and variety"
	}
}

// PasswordScore counts the satisfied checks out of six: length >= 6,
// length >= 8, lowercase, uppercase, digit and any other character.
func PasswordScore(password string) int {
	var lower, upper, digit, other bool
	n := 0
	for _, r := range password {
		n++
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			other = true
		}
	}

	score := 0
	for _, ok := range []bool{n >= 6, n >= 8, lower, upper, digit, other} {
		if ok {
			score++
		}
	}
	return score
}

// PasswordStrength maps the score to weak (<3), medium (<5) or strong.
func PasswordStrength(password string) (int, Strength) {
	score := PasswordScore(password)
	switch {
	case score < 3:
		return score, Weak
	case score < 5:
		return score, Medium
	default:
		return score, Strong
	}
}
