package config

import (
	"os"
	"strings"
)

// expandEnv replaces ${VAR} and ${VAR:default} references in raw config
// text. Unset variables without a default expand to the empty string. Only
// brace-delimited references are touched; any other '$' passes through
// unchanged, so literal dollars in credentials survive.
func expandEnv(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			break
		}
		b.WriteString(s[:start])

		ref := s[start+2 : start+end]
		name, fallback, hasFallback := strings.Cut(ref, ":")
		if value, ok := os.LookupEnv(name); ok {
			b.WriteString(value)
		} else if hasFallback {
			b.WriteString(fallback)
		}

		s = s[start+end+1:]
	}
	b.WriteString(s)
	return b.String()
}

// LoadEnv loads KEY=VALUE pairs from a .env style file into the process
// environment. Blank lines and lines starting with # are skipped.
func LoadEnv(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key != "" {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
	return nil
}
