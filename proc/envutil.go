package proc

import (
	"os"
	"strings"
)

// currentEnviron returns the current process environment as a map,
// adapted from this module's ancestor's copyEnvWithOverrides helper
// (which did the same splitting on the first "=" to tolerate values that
// themselves contain "=").
func currentEnviron() map[string]string {
	environ := os.Environ()
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq == -1 {
			continue
		}
		out[kv[:eq]] = kv[eq+1:]
	}
	return out
}
