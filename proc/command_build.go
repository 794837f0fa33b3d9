package proc

import (
	"fmt"
	"strings"
)

// builtCommand is the fully resolved command line a PipeStrategy will
// hand to the spawn primitive, plus any extra environment variables that
// must be set alongside it (used only by the Windows delayed-expansion
// placeholder scheme).
type builtCommand struct {
	Line     string
	ExtraEnv map[string]string
}

// buildPOSIXCommand resolves cfg.Args or cfg.Template into the final
// shell command line, per the escaping contract in the package
// documentation (§6): each element of the vector form is wrapped in
// single quotes and the elements are joined with spaces. The "exec "
// prefix is not added here; posixPipeStrategy.Open adds it when the
// command is not fallback-wrapped.
func buildPOSIXCommand(cfg *Config, env map[string]string) (*builtCommand, error) {
	if cfg.Template != "" {
		resolved, err := resolveTemplate(cfg.Template, env, posixQuote)
		if err != nil {
			return nil, err
		}
		return &builtCommand{Line: resolved}, nil
	}

	parts := make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		parts[i] = posixQuote(a)
	}
	return &builtCommand{Line: strings.Join(parts, " ")}, nil
}

// posixQuote wraps s in single quotes, escaping any embedded single quote
// as '\'' (close quote, escaped literal quote, reopen quote).
func posixQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// resolveTemplate substitutes every "${:NAME}" placeholder in template
// with escape(env[NAME]). A placeholder whose NAME has no entry in env
// fails with InvalidArgumentError.
func resolveTemplate(template string, env map[string]string, escape func(string) string) (string, error) {
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${:")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start:], '}')
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		name := rest[start+3 : end]
		value, ok := env[name]
		if !ok {
			return "", invalidArgument("no value provided for command placeholder %q", name)
		}
		b.WriteString(escape(value))
		rest = rest[end+1:]
	}
	return b.String(), nil
}

// windowsUnsafeChars are the characters that cannot survive cmd.exe's own
// quoting rules unmodified and must instead be carried through a
// delayed-expansion variable.
const windowsUnsafeChars = "\"^%!\n"

func buildWindowsCommand(cfg *Config, env map[string]string) (*builtCommand, error) {
	extraEnv := map[string]string{}
	varIndex := 0
	nextVar := func(value string) string {
		varIndex++
		name := fmt.Sprintf("PROC_ARG_%d", varIndex)
		extraEnv[name] = strings.ReplaceAll(value, "\x00", "?")
		return "!" + name + "!"
	}

	literal := func(s string) string {
		if strings.ContainsAny(s, windowsUnsafeChars) {
			return nextVar(s)
		}
		return windowsQuoteArg(s)
	}

	var inner string
	if cfg.Template != "" {
		resolved, err := resolveTemplate(cfg.Template, env, literal)
		if err != nil {
			return nil, err
		}
		inner = resolved
	} else {
		parts := make([]string, len(cfg.Args))
		for i, a := range cfg.Args {
			parts[i] = literal(a)
		}
		inner = strings.Join(parts, " ")
	}

	line := fmt.Sprintf("cmd /V:ON /E:ON /D /C (%s)", inner)
	return &builtCommand{Line: line, ExtraEnv: extraEnv}, nil
}

// windowsQuoteArg quotes a single argument per the Microsoft C runtime's
// command-line parsing rules (the same rules CommandLineToArgvW and
// cmd.exe expect): wrap in double quotes whenever the argument is empty
// or contains a space, tab, or quote; double any backslashes that
// immediately precede a literal quote or the closing quote.
func windowsQuoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"") {
		return s
	}

	var b strings.Builder
	b.WriteByte('"')
	backslashes := 0
	for _, r := range s {
		switch r {
		case '\\':
			backslashes++
		case '"':
			b.WriteString(strings.Repeat(`\`, backslashes*2+1))
			b.WriteByte('"')
			backslashes = 0
		default:
			if backslashes > 0 {
				b.WriteString(strings.Repeat(`\`, backslashes))
				backslashes = 0
			}
			b.WriteRune(r)
		}
	}
	if backslashes > 0 {
		b.WriteString(strings.Repeat(`\`, backslashes*2))
	}
	b.WriteByte('"')
	return b.String()
}
