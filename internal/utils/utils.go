// Package utils holds small helpers shared across proxy packages that don't
// warrant their own package: URL obfuscation for logs and byte-count
// formatting for the admin status surface.
package utils

import (
	"fmt"
	"net/url"
)

// LogURL returns a URL suitable for inclusion in a log line, obfuscating it
// when obfuscate is set.
func LogURL(obfuscate bool, rawURL string) string {
	if obfuscate {
		return ObfuscateURL(rawURL)
	}
	return rawURL
}

// ObfuscateURL masks the path, query, and fragment of a URL while keeping
// scheme and host, so logs remain useful for host-level troubleshooting
// without leaking tokens embedded in paths or query strings.
func ObfuscateURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}

// FormatBytes renders a byte count as a human-readable string (e.g. "1.5 MiB").
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
