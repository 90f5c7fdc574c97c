// Package screening holds the heuristic receipt checks, the duplicate
// detector and the adapter around the optional external classifier.
package screening

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b`),
	regexp.MustCompile(`\b\d{4}[/-]\d{1,2}[/-]\d{1,2}\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s+(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{2,4}\b`),
}

// day-first numeric layouts, then year-first, then written months
var dateLayouts = []string{
	"2/1/2006",
	"2006/1/2",
	"2-1-2006",
	"2006-1-2",
	"2 Jan 2006",
	"2 January 2006",
}

// findDates returns every date-looking token and the subset that parse
func findDates(text string) (raw []string, parsed []time.Time) {
	for _, p := range datePatterns {
		raw = append(raw, p.FindAllString(text, -1)...)
	}
	for _, token := range raw {
		if d, ok := parseReceiptDate(token); ok {
			parsed = append(parsed, d)
		}
	}
	return raw, parsed
}

func parseReceiptDate(token string) (time.Time, bool) {
	token = strings.Join(strings.Fields(token), " ")
	for _, layout := range dateLayouts {
		if d, err := time.ParseInLocation(layout, token, time.Local); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// FileHash returns the hex sha256 of a file's content, or "" if it cannot be read
func FileHash(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the hex sha256 of data
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TextHash returns the hex md5 of extracted text. Empty text has no hash so
// two unreadable receipts never look identical.
func TextHash(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func containsAny(haystack string, needles []string) []string {
	var found []string
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			found = append(found, n)
		}
	}
	return found
}
