package resolver

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/devicelab-dev/webtest-runner/pkg/registry"
)

// token is one word or quoted literal of an instruction.
type token struct {
	text   string   // as written
	key    string   // case-folded
	parts  []string // case-folded camelCase/snake/kebab parts
	quoted bool
}

var verbs = map[string]registry.Intent{
	"click": registry.IntentClick, "press": registry.IntentClick, "tap": registry.IntentClick, "hit": registry.IntentClick, "push": registry.IntentClick,
	"enter": registry.IntentFill, "type": registry.IntentFill, "fill": registry.IntentFill, "input": registry.IntentFill, "write": registry.IntentFill, "set": registry.IntentFill,
	"select": registry.IntentSelect, "choose": registry.IntentSelect, "pick": registry.IntentSelect,
	"verify": registry.IntentAssert, "assert": registry.IntentAssert, "check": registry.IntentAssert, "expect": registry.IntentAssert,
	"ensure": registry.IntentAssert, "confirm": registry.IntentAssert, "see": registry.IntentAssert,
	"wait": registry.IntentWait,
	"go": registry.IntentNavigate, "open": registry.IntentNavigate, "navigate": registry.IntentNavigate, "visit": registry.IntentNavigate,
	"goto": registry.IntentNavigate, "browse": registry.IntentNavigate,
	"call": registry.IntentCall, "run": registry.IntentCall, "invoke": registry.IntentCall, "execute": registry.IntentCall, "perform": registry.IntentCall,
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "into": true, "in": true, "on": true, "to": true, "with": true,
	"as": true, "of": true, "for": true, "at": true, "from": true, "value": true, "that": true,
	"shows": true, "show": true, "displays": true, "contains": true, "is": true, "has": true,
	"and": true, "then": true, "please": true, "it": true, "should": true, "be": true,
	"equals": true, "reads": true, "says": true, "until": true, "page": true,
}

var typeWords = map[string]bool{
	"input": true, "field": true, "box": true, "textbox": true, "button": true, "btn": true,
	"link": true, "dropdown": true, "menu": true, "checkbox": true, "text": true, "label": true,
	"tab": true, "icon": true, "method": true, "banner": true,
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Substitute replaces {{name}} with vars[name]. Unknown names are left as written.
func Substitute(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

func fold(s string) string {
	return cases.Fold().String(s)
}

// tokenize splits an instruction into words, keeping quoted literals intact.
func tokenize(s string) []token {
	var out []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		if unicode.IsSpace(r) {
			i++
			continue
		}
		if closer, ok := quoteCloser(r); ok {
			if j := indexRune(rs, i+1, closer); j > i {
				lit := string(rs[i+1 : j])
				out = append(out, token{text: lit, key: fold(lit), quoted: true})
				i = j + 1
				continue
			}
		}
		j := i
		for j < len(rs) && !unicode.IsSpace(rs[j]) {
			j++
		}
		word := trimPunct(string(rs[i:j]))
		i = j
		if word == "" {
			continue
		}
		t := token{text: word, key: fold(word)}
		if !placeholder.MatchString(word) {
			t.parts = splitName(word)
		}
		out = append(out, t)
	}
	return out
}

func quoteCloser(r rune) (rune, bool) {
	switch r {
	case '"':
		return '"', true
	case '\'':
		return '\'', true
	case '“':
		return '”', true
	case '‘':
		return '’', true
	}
	return 0, false
}

func indexRune(rs []rune, from int, r rune) int {
	for i := from; i < len(rs); i++ {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

func trimPunct(w string) string {
	if placeholder.MatchString(w) {
		return w
	}
	if isLocation(w) {
		return strings.TrimRight(w, ".,;!?")
	}
	return strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) && r != '#' && r != '_' && r != '-'
	})
}

// isLocation reports whether w looks like a URL or an absolute path.
func isLocation(w string) bool {
	return strings.HasPrefix(w, "/") || strings.Contains(w, "://")
}

// splitName splits camelCase, snake_case and kebab-case names into folded parts.
func splitName(name string) []string {
	var parts []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, fold(string(cur)))
			cur = cur[:0]
		}
	}
	rs := []rune(name)
	for i, r := range rs {
		switch {
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return parts
}

var durationPattern = regexp.MustCompile(`^(\d+)(ms|s|sec|secs|second|seconds|m|min|mins|minute|minutes)?$`)

// parseDuration reads a duration from tokens[i] (and an optional unit in
// tokens[i+1]) and returns it in milliseconds. A bare number means seconds.
func parseDuration(tokens []token, i int) (int, bool) {
	m := durationPattern.FindStringSubmatch(tokens[i].key)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	unit := m[2]
	if unit == "" && i+1 < len(tokens) {
		if u := durationPattern.FindStringSubmatch("1" + tokens[i+1].key); u != nil && u[2] != "" {
			unit = u[2]
		}
	}
	switch unit {
	case "ms":
		return n, true
	case "m", "min", "mins", "minute", "minutes":
		return n * 60_000, true
	default:
		return n * 1000, true
	}
}
