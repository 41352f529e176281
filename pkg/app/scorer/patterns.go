package scorer

import (
	"regexp"

	"github.com/NeuralTrust/TrustGuard/pkg/domain/threat"
)

type endpointPattern struct {
	Name     string
	Category threat.Category
	Regex    *regexp.Regexp
}

var endpointPatterns = []endpointPattern{
	{
		Name:     "path traversal",
		Category: threat.CategoryPathTraversal,
		Regex:    regexp.MustCompile(`(?i)(\.\./|\.\.\\|%2e%2e|\.\.%2f|%252e)`),
	},
	{
		Name:     "sql injection",
		Category: threat.CategorySQLInjection,
		Regex: regexp.MustCompile(`(?i)(` +
			`\bunion\b[\s+/*]+(all[\s+]+)?select\b|` +
			`\bselect\b.+\bfrom\b|` +
			`\binsert\b[\s+]+into\b|` +
			`\bdrop\b[\s+]+(table|database)\b|` +
			`\bdelete\b[\s+]+from\b|` +
			`\bupdate\b.+\bset\b|` +
			`'\s*or\s*'?\d+'?\s*=\s*'?\d+` +
			`)`),
	},
	{
		Name:     "script injection",
		Category: threat.CategoryXSS,
		Regex:    regexp.MustCompile(`(?i)(<\s*script|javascript:|\bon(error|load|mouseover|focus)\s*=|<\s*iframe|document\.cookie)`),
	},
	{
		Name:     "sensitive file",
		Category: threat.CategorySensitiveFile,
		Regex:    regexp.MustCompile(`(?i)(\.(env|git|htaccess|htpasswd|sql|bak|ini|log|config|swp|pem|key)(\b|$)|/etc/passwd|web\.config)`),
	},
	{
		Name:     "admin panel scan",
		Category: threat.CategoryAdminScan,
		Regex:    regexp.MustCompile(`(?i)(wp-admin|wp-login|phpmyadmin|/administrator|cpanel|/manager/html|/admin\.php)`),
	},
	{
		Name:     "command execution",
		Category: threat.CategoryCommandInjection,
		Regex:    regexp.MustCompile("(?i)([;|]\\s*(ls|cat|wget|curl|nc|bash|sh|id|whoami)\\b|\\$\\(|`|/bin/(ba)?sh|cmd\\.exe)"),
	},
}

var offensiveUserAgent = regexp.MustCompile(`(?i)(sqlmap|nikto|nmap|masscan|nessus|openvas|acunetix|burp|w3af|metasploit|havij|hydra|dirbuster|gobuster|wpscan|zgrab|nuclei|ffuf|wfuzz|netsparker|appscan|zap/)`)

// relevantHeaders are the request headers a regular browser or SDK client sends.
var relevantHeaders = []string{
	"user-agent",
	"accept",
	"accept-language",
	"accept-encoding",
	"connection",
	"cache-control",
	"referer",
	"origin",
	"host",
	"content-type",
}
