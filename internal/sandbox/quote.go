package sandbox

import (
	"errors"
	"strings"
)

// ShellQuote wraps s in single quotes for POSIX sh, escaping embedded single
// quotes as '\''. It is the only quoting primitive used to build shell text.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Fixed scripts that take their operands as positional parameters, so
// contents and paths are never interpolated into shell text.
const (
	writeScript       = `printf '%s\n' "$1" > "$2"`
	writeBase64Script = `printf '%s' "$1" | base64 -d > "$2"`
)

func writeFileCmd(path, contents string) []string {
	return []string{"sh", "-c", writeScript, "sh", contents, path}
}

func writeBase64Cmd(path, encoded string) []string {
	return []string{"sh", "-c", writeBase64Script, "sh", encoded, path}
}

// describeCommand renders argv for logs. File writes show only their target
// path since their operands carry file contents.
func describeCommand(argv []string) string {
	if len(argv) == 6 && argv[0] == "sh" && argv[1] == "-c" {
		switch argv[2] {
		case writeScript:
			return "write " + argv[5]
		case writeBase64Script:
			return "upload " + argv[5]
		}
	}
	return strings.Join(argv, " ")
}

// inDirCmd runs line in a fresh shell after changing into dir.
func inDirCmd(dir, line string) []string {
	return []string{"sh", "-c", "cd " + ShellQuote(dir) + " && " + line}
}

// shellWords is a command line split the way sh would split it, without
// performing any expansion.
type shellWords struct {
	words []string
	// expands is set when the text uses $ or ` outside single quotes.
	expands bool
	// compound is set when the text holds an unquoted operator.
	compound bool
}

var errUnterminatedQuote = errors.New("unterminated quote")

// splitWords applies sh quote removal to s: single quotes are literal,
// double quotes keep \ before $ ` " \ and newline, and an unquoted backslash
// escapes the next character.
func splitWords(s string) (shellWords, error) {
	var (
		res     shellWords
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	flush := func() {
		if inWord {
			res.words = append(res.words, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for _, r := range s {
		switch {
		case escaped:
			if quote == '"' && !strings.ContainsRune("$`\"\\\n", r) {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			inWord = true
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			case '$', '`':
				res.expands = true
				cur.WriteRune(r)
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inWord = true
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		case strings.ContainsRune(";&|<>", r):
			res.compound = true
			flush()
		case r == '$' || r == '`':
			res.expands = true
			cur.WriteRune(r)
			inWord = true
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return res, errUnterminatedQuote
	}
	flush()
	return res, nil
}
