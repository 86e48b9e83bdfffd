// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const defaultRegion = "US"

// candidatePattern matches runs that look like phone numbers: digits with
// optional separators and an optional leading +.
var candidatePattern = regexp.MustCompile(`\+?\d[\d\s\-.()/]{7,}\d`)

// datePattern matches bare calendar dates and datetimes, which can reach
// ten digits with separators and must not be mistaken for phone numbers.
var datePattern = regexp.MustCompile(`^\d{1,4}[-./]\d{1,2}[-./]\d{2,4}([ T]\d{1,2}(:\d{2}(:\d{2})?)?)?$`)

// NormalizeE164 formats a phone number to E.164. If parsing fails, it returns the trimmed input.
func NormalizeE164(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// FindNumber scans free text for a phone number: a digit sequence of at
// least ten digits that is not a bare date. It returns the number in E.164
// form when it parses as valid, otherwise the raw matched candidate.
func FindNumber(text string) (string, bool) {
	for _, candidate := range candidatePattern.FindAllString(text, -1) {
		candidate = strings.TrimSpace(candidate)
		if datePattern.MatchString(candidate) {
			continue
		}
		if digitCount(candidate) < 10 {
			continue
		}

		if number, err := phonenumbers.Parse(candidate, defaultRegion); err == nil && phonenumbers.IsValidNumber(number) {
			return phonenumbers.Format(number, phonenumbers.E164), true
		}
		return candidate, true
	}
	return "", false
}

func digitCount(s string) int {
	count := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			count++
		}
	}
	return count
}
