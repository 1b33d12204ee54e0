package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/BradenHooton/bastion/internal/metrics"
	"github.com/BradenHooton/bastion/internal/models"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
)

// maliciousPatterns match the raw and once-decoded request target, lowercased
var maliciousPatterns = []*regexp.Regexp{
	// path traversal
	regexp.MustCompile(`\.\./|\.\.\\`),
	regexp.MustCompile(`%2e%2e|%252e`),
	// script injection
	regexp.MustCompile(`<script|javascript:|onerror\s*=`),
	// SQL injection
	regexp.MustCompile(`union(\s|\+|/\*.*?\*/)+(all(\s|\+)+)?select`),
	regexp.MustCompile(`'\s*or\s*'?1'?\s*=\s*'?1`),
	regexp.MustCompile(`;\s*drop\s+table`),
	regexp.MustCompile(`sleep\s*\(`),
	regexp.MustCompile(`'\s*--`),
	// NUL byte
	regexp.MustCompile(`\x00|%00`),
}

var blockedUserAgents = []string{
	"sqlmap",
	"nikto",
	"nmap",
	"masscan",
	"zgrab",
	"dirbuster",
	"gobuster",
	"wpscan",
	"acunetix",
	"nessus",
	"hydra",
	"havij",
	"nuclei",
}

// RequestFilter rejects requests whose target carries an attack pattern or
// whose user agent is a known scanner. Rejections are 403 forbidden_request
// with no detail.
func RequestFilter(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reason := inspectRequest(r); reason != "" {
				logger.Warn("request rejected by filter",
					slog.String("reason", reason),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				m.GateRejected(reason, "")
				pkghttp.WriteError(w, http.StatusForbidden, "forbidden_request", models.ErrForbiddenRequest.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// inspectRequest returns "pattern", "user_agent" or "" when clean
func inspectRequest(r *http.Request) string {
	if isBlockedUserAgent(r.UserAgent()) {
		return "user_agent"
	}

	target := r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	if matchesMaliciousPattern(target) {
		return "pattern"
	}
	return ""
}

func matchesMaliciousPattern(target string) bool {
	candidates := []string{strings.ToLower(target)}
	if decoded, err := url.QueryUnescape(target); err == nil && decoded != target {
		candidates = append(candidates, strings.ToLower(decoded))
	}

	for _, candidate := range candidates {
		for _, pattern := range maliciousPatterns {
			if pattern.MatchString(candidate) {
				return true
			}
		}
	}
	return false
}

func isBlockedUserAgent(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, tool := range blockedUserAgents {
		if strings.Contains(ua, tool) {
			return true
		}
	}
	return false
}
