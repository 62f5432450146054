package sandbox

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// denyPatterns is the compatibility deny-list: dangerous constructs rejected
// by plain substring match before any execution. The real isolation boundary
// is the interpreter itself (no OS access is ever wired in), so this list
// only preserves the documented reject messages.
var denyPatterns = []struct {
	pattern string
	reason  string
}{
	{"subprocess", "process access is not allowed"},
	{"os.system", "system command execution is not allowed"},
	{"os.popen", "process access is not allowed"},
	{"open(", "file access is not allowed"},
	{"io.open", "file access is not allowed"},
	{"pathlib", "file access is not allowed"},
	{"shutil", "file access is not allowed"},
	{"socket", "network access is not allowed"},
	{"urllib", "network access is not allowed"},
	{"requests", "network access is not allowed"},
	{"http.client", "network access is not allowed"},
	{"__import__", "dynamic imports are not allowed"},
	{"importlib", "dynamic imports are not allowed"},
	{"eval(", "dynamic code evaluation is not allowed"},
	{"exec(", "dynamic code evaluation is not allowed"},
	{"compile(", "dynamic code evaluation is not allowed"},
	{"getattr(", "reflective attribute access is not allowed"},
	{"setattr(", "reflective attribute access is not allowed"},
	{"globals(", "reflective introspection is not allowed"},
	{"locals(", "reflective introspection is not allowed"},
}

// Validate statically checks a script against the security policy: the
// deny-list scan, a parse, the load() allow-list, and the presence of the
// on_bar entry point. Scripts that fail here are never executed.
func Validate(code string, policy Policy) ValidationResult {
	policy = policy.withDefaults()
	var errs []ScriptError

	for _, d := range denyPatterns {
		if strings.Contains(code, d.pattern) {
			errs = append(errs, ScriptError{
				Type:    ErrSecurity,
				Message: fmt.Sprintf("forbidden construct %q: %s", d.pattern, d.reason),
			})
		}
	}

	f, err := syntax.Parse("strategy.star", code, 0)
	if err != nil {
		errs = append(errs, ScriptError{Type: ErrSyntax, Message: err.Error()})
		return ValidationResult{Valid: false, Errors: errs}
	}

	allowed := make(map[string]bool, len(policy.AllowedModules))
	for _, m := range policy.AllowedModules {
		allowed[m] = true
	}

	hasOnBar := false
	syntax.Walk(f, func(n syntax.Node) bool {
		switch stmt := n.(type) {
		case *syntax.LoadStmt:
			module := stmt.ModuleName()
			if !allowed[module] {
				line, _ := stmt.Span()
				errs = append(errs, ScriptError{
					Type:    ErrSecurity,
					Message: fmt.Sprintf("module %q is not on the import allow-list (allowed: %s)", module, strings.Join(policy.AllowedModules, ", ")),
					Line:    int(line.Line),
				})
			}
		case *syntax.DefStmt:
			if stmt.Name != nil && stmt.Name.Name == entryPoint {
				hasOnBar = true
			}
		}
		return true
	})

	if !hasOnBar {
		errs = append(errs, ScriptError{
			Type:    ErrInterface,
			Message: fmt.Sprintf("script must define a %s(ctx, bar) function", entryPoint),
		})
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
