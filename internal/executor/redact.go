package executor

import (
	"regexp"
	"strings"
)

// redacted replaces secrets found in command stderr before it reaches errors,
// logs, events and the HTTP status API.
const redacted = "[REDACTED]"

// secretPatterns match common credentials. A capture group, when present,
// marks the part to replace.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`),
	regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|secret|password|passwd|pwd|token)\s*[:=]\s*['"]?([^\s'"]{8,})`),
	regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9\-._~+/]{16,}=*)`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`),
	regexp.MustCompile(`glpat-[A-Za-z0-9\-]{20,}`),
	regexp.MustCompile(`(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
	regexp.MustCompile(`(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:/\s]+:([^@\s]+)@`),
	regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?(?:-----END [A-Z ]*PRIVATE KEY-----|$)`),
}

// sensitiveEnvKey reports whether an environment variable name suggests a credential.
func sensitiveEnvKey(key string) bool {
	k := strings.ToUpper(key)
	for _, marker := range []string{"TOKEN", "SECRET", "PASSWORD", "PASSWD", "API_KEY", "APIKEY", "CREDENTIAL"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

// redact removes credentials from s: values of sensitive variables in env and
// anything matching secretPatterns.
func redact(s string, env map[string]string) string {
	for k, v := range env {
		if len(v) >= 4 && sensitiveEnvKey(k) {
			s = strings.ReplaceAll(s, v, redacted)
		}
	}
	for _, re := range secretPatterns {
		s = re.ReplaceAllStringFunc(s, func(match string) string {
			sub := re.FindStringSubmatchIndex(match)
			if len(sub) >= 4 && sub[2] >= 0 {
				return match[:sub[2]] + redacted + match[sub[3]:]
			}
			return redacted
		})
	}
	return s
}
