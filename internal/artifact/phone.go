package artifact

import (
	"regexp"
	"strings"
)

var phoneRe = regexp.MustCompile(`\+\d{10,15}`)

// FindPhone returns the first E.164-looking number in texts.
func FindPhone(texts ...string) string {
	for _, t := range texts {
		if m := phoneRe.FindString(t); m != "" {
			return m
		}
	}
	return ""
}

// Digits strips everything but digits from a phone number.
func Digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RoomNameForNumber is the room naming convention used by the SIP dispatch rule.
func RoomNameForNumber(phone string) string {
	d := Digits(phone)
	if d == "" {
		return ""
	}
	return "number-_" + d
}
