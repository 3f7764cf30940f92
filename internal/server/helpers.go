package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeError(w, http.StatusTooManyRequests, "too many requests")
}

var (
	reUpper = regexp.MustCompile(`[A-Z]`)
	reLower = regexp.MustCompile(`[a-z]`)
	reDigit = regexp.MustCompile(`[0-9]`)
	reSym   = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// validatePassword gates new master passwords only; unlock accepts whatever
// the vault was created with.
func validatePassword(pw string) error {
	switch {
	case len(pw) < 12:
		return errors.New("password must be at least 12 characters")
	case strings.Contains(pw, " "):
		return errors.New("password must not contain spaces")
	case !reUpper.MatchString(pw):
		return errors.New("password must include an uppercase letter")
	case !reLower.MatchString(pw):
		return errors.New("password must include a lowercase letter")
	case !reDigit.MatchString(pw):
		return errors.New("password must include a digit")
	case !reSym.MatchString(pw):
		return errors.New("password must include a special character")
	default:
		return nil
	}
}
