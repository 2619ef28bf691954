package pipeline

import (
	"regexp"

	"github.com/openconduit/openconduit/pkg/telemetry"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// render substitutes {{name}} tokens in a command with pipeline variables.
// Substitution is literal text replacement, not shell interpolation. Tokens
// with no matching variable pass through verbatim so the failure surfaces at
// execution rather than silently running a mangled command.
func (e *Engine) render(command string, vars map[string]string, logger *telemetry.Logger) string {
	return tokenPattern.ReplaceAllStringFunc(command, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		logger.Warnf("unresolved template variable %q left verbatim", name)
		return token
	})
}
