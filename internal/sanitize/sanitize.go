// Package sanitize redacts user names and host names from filesystem paths
// before text reaches an LLM context window.
package sanitize

import "regexp"

// Placeholders substituted for the identifying segment of a path.
const (
	UserPlaceholder   = "<user>"
	HostPlaceholder   = "<host>"
	DomainPlaceholder = "<domain>"
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: the Windows profile rule runs before the POSIX rule so that
// "C:/Users/x" is handled once, and placeholders are excluded from every
// segment class so Text is idempotent.
var rules = []rule{
	// C:\Users\alice, C:/Users/alice, D:\Documents and Settings\alice
	{
		re:   regexp.MustCompile(`(?i)\b([A-Z]:[\\/](?:Users|Documents and Settings)[\\/])([^\\/\s"'<>]+)`),
		repl: `${1}` + UserPlaceholder,
	},
	// \\server\share
	{
		re:   regexp.MustCompile(`(^|[^\\\w])\\\\([^\\/\s"'<>]+)\\`),
		repl: `${1}\\` + HostPlaceholder + `\`,
	},
	// /home/alice, /Users/alice
	{
		re:   regexp.MustCompile(`(/(?:home|Users)/)([^/\s"'<>:]+)`),
		repl: `${1}` + UserPlaceholder,
	},
	// CORP\alice, corp\alice
	{
		re:   regexp.MustCompile(`(^|[\s"'(=,;:])([A-Za-z][A-Za-z0-9-]{0,14})\\([A-Za-z0-9][A-Za-z0-9._$-]*)`),
		repl: `${1}` + DomainPlaceholder + `\` + UserPlaceholder,
	},
}

// Text returns s with every recognised user, host and domain segment
// replaced by a fixed placeholder.
func Text(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// Lines applies Text to each element, returning a new slice.
func Lines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = Text(l)
	}
	return out
}
