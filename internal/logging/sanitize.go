package logging

import (
	"regexp"
	"strings"
)

// secretPatterns match the common ways credentials leak into log lines:
// key/value pairs in config dumps, CLI flags, and environment variables
// passed to dump subprocesses. Each pattern's first capture group is the
// secret value to mask.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password["']?\s*[:=]\s*["']?([^"',\s}]+)["']?`),
	regexp.MustCompile(`(?i)--password[=\s]+(\S+)`),
	regexp.MustCompile(`PGPASSWORD=(\S+)`),
	regexp.MustCompile(`MYSQL_PWD=(\S+)`),
	regexp.MustCompile(`(?i)secret["']?\s*[:=]\s*["']?([^"',\s}]+)["']?`),
	regexp.MustCompile(`(?i)token["']?\s*[:=]\s*["']?([^"',\s}]+)["']?`),
	regexp.MustCompile(`(?i)access_key["']?\s*[:=]\s*["']?([^"',\s}]+)["']?`),
}

// Sanitize masks secret values in a log message with "***". The loggers
// built by this package do not apply it: only strings passed to Sanitize
// are masked.
func Sanitize(message string) string {
	out := message
	for _, re := range secretPatterns {
		out = re.ReplaceAllStringFunc(out, func(m string) string {
			sub := re.FindStringSubmatch(m)
			if len(sub) < 2 || sub[1] == "" {
				return m
			}
			idx := strings.LastIndex(m, sub[1])
			return m[:idx] + "***" + m[idx+len(sub[1]):]
		})
	}
	return out
}
