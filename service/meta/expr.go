package meta

import (
	"os"
	"strings"
	"unicode"
)

const (
	exprStart    = "${"
	envNamespace = "env."
)

// expandEnvExpr replaces every ${KEY} and ${env.KEY} in value with the
// environment variable KEY, or "" when unset. Expressions with an invalid key
// or without a closing brace are kept literally.
func expandEnvExpr(value string) string {
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(value[i:], exprStart)
		if idx < 0 {
			b.WriteString(value[i:])
			return b.String()
		}
		b.WriteString(value[i : i+idx])
		keyStart := i + idx + len(exprStart)
		keyLen := strings.IndexByte(value[keyStart:], '}')
		if keyLen < 0 {
			b.WriteString(value[i+idx:])
			return b.String()
		}
		key := strings.TrimPrefix(value[keyStart:keyStart+keyLen], envNamespace)
		if !isEnvKey(key) {
			// rescan right after the opening so nested expressions still expand
			b.WriteString(exprStart)
			i = keyStart
			continue
		}
		b.WriteString(os.Getenv(key))
		i = keyStart + keyLen + 1
	}
}

func isEnvKey(key string) bool {
	for _, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
