package validator

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var msgs []string
	for _, err := range v {
		msgs = append(msgs, err.Field+": "+err.Message)
	}
	return strings.Join(msgs, "; ")
}

func (v ValidationErrors) ToMap() map[string]string {
	result := make(map[string]string)
	for _, err := range v {
		result[err.Field] = err.Message
	}
	return result
}

// Messages returns the bare messages in order.
func (v ValidationErrors) Messages() []string {
	msgs := make([]string, 0, len(v))
	for _, err := range v {
		msgs = append(msgs, err.Message)
	}
	return msgs
}

// IsEmpty checks if a string is empty after trimming whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Email validation
func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[1-8][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// IsValidUUID accepts RFC 4122 / 9562 UUIDs of any version.
func IsValidUUID(uuid string) bool {
	return uuidRegex.MatchString(strings.ToLower(uuid))
}

// Numeric validation
var numericRegex = regexp.MustCompile(`^[0-9]+$`)

func IsNumeric(s string) bool {
	return numericRegex.MatchString(s)
}

// OnlyDigits strips everything but 0-9.
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Date validation
func IsValidDate(dateStr string) (time.Time, bool) {
	date, err := time.Parse("2006-01-02", dateStr)
	return date, err == nil
}

func allSameDigit(s string) bool {
	return strings.Count(s, s[:1]) == len(s)
}

// IsValidCPF checks length and both check digits of a CPF. Punctuation is ignored.
func IsValidCPF(cpf string) bool {
	cpf = OnlyDigits(cpf)
	if len(cpf) != 11 || allSameDigit(cpf) {
		return false
	}

	digit := func(n int) int {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(cpf[i]-'0') * (n + 1 - i)
		}
		rest := sum % 11
		if rest < 2 {
			return 0
		}
		return 11 - rest
	}

	return digit(9) == int(cpf[9]-'0') && digit(10) == int(cpf[10]-'0')
}

// IsValidCNPJ checks length and both check digits of a CNPJ. Punctuation is ignored.
func IsValidCNPJ(cnpj string) bool {
	cnpj = OnlyDigits(cnpj)
	if len(cnpj) != 14 || allSameDigit(cnpj) {
		return false
	}

	weights1 := []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	weights2 := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}

	digit := func(weights []int) int {
		sum := 0
		for i, w := range weights {
			sum += int(cnpj[i]-'0') * w
		}
		rest := sum % 11
		if rest < 2 {
			return 0
		}
		return 11 - rest
	}

	return digit(weights1) == int(cnpj[12]-'0') && digit(weights2) == int(cnpj[13]-'0')
}

// IsValidCpfCnpj accepts either document.
func IsValidCpfCnpj(doc string) bool {
	switch len(OnlyDigits(doc)) {
	case 11:
		return IsValidCPF(doc)
	case 14:
		return IsValidCNPJ(doc)
	default:
		return false
	}
}

// IsValidPhoneNumber accepts Brazilian landline and mobile numbers with DDD,
// optionally prefixed by the 55 country code.
func IsValidPhoneNumber(phone string) bool {
	digits := OnlyDigits(phone)
	if strings.HasPrefix(strings.TrimSpace(phone), "+") || len(digits) > 11 {
		if !strings.HasPrefix(digits, "55") {
			return false
		}
		digits = strings.TrimPrefix(digits, "55")
	}
	if len(digits) != 10 && len(digits) != 11 {
		return false
	}
	// DDD never starts with 0
	return digits[0] != '0'
}

// IsValidPostalCode validates a CEP (8 digits).
func IsValidPostalCode(cep string) bool {
	return len(OnlyDigits(cep)) == 8
}

// IsValidCardExpiry validates a MM / YYYY pair that is not in the past.
func IsValidCardExpiry(month, year string, now time.Time) bool {
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return false
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return false
	}
	if y < 100 {
		y += 2000
	}
	if y < now.Year() {
		return false
	}
	return y > now.Year() || m >= int(now.Month())
}
