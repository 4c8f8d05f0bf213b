// Package resolver turns free-text step instructions into concrete action
// descriptors using the element registry.
//
// Resolution is deterministic: the same instruction against the same registry
// snapshot always yields the same result. Instructions the registry cannot map
// come back Unresolved; interpreting them against a live page is the caller's
// job (see Interpreter).
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/registry"
)

// Request is one instruction to resolve.
type Request struct {
	Instruction string
	AppID       string
	ScreenHint  string
	Variables   map[string]string
}

// Reason explains why an instruction did not resolve.
type Reason string

// Reason values.
const (
	ReasonEmpty      Reason = "empty"
	ReasonUnknownApp Reason = "unknown-app"
	ReasonNoIntent   Reason = "no-intent"
	ReasonNoElement  Reason = "no-element"
	ReasonAmbiguous  Reason = "ambiguous"
	ReasonNoTemplate Reason = "no-template"
	ReasonInvalid    Reason = "invalid-action"
)

// Result is either Resolved or Unresolved.
type Result interface {
	isResult()
	String() string
}

// Resolved is a deterministic mapping to an action.
type Resolved struct {
	Action   core.ActionDescriptor
	Element  string                  // Matched element, method or screen; empty for literal targets
	Template registry.ActionTemplate // Zero when no template was involved
}

// Unresolved means the registry could not map the instruction.
type Unresolved struct {
	Reason     Reason
	Candidates []string // Tied element names when ambiguous
}

func (Resolved) isResult()   {}
func (Unresolved) isResult() {}

func (r Resolved) String() string {
	return r.Action.Describe()
}

func (u Unresolved) String() string {
	if len(u.Candidates) > 0 {
		return fmt.Sprintf("unresolved (%s: %s)", u.Reason, strings.Join(u.Candidates, ", "))
	}
	return fmt.Sprintf("unresolved (%s)", u.Reason)
}

// Err converts the result into a step-level error.
func (u Unresolved) Err() error {
	return core.ErrUnresolved.WithMessage(u.String()).WithDetails(map[string]interface{}{
		"reason": string(u.Reason),
	})
}

// SnapshotProvider hands out the current registry snapshot.
type SnapshotProvider interface {
	Snapshot() *registry.Snapshot
}

// Resolver maps instructions to actions against the current registry.
type Resolver struct {
	snapshots SnapshotProvider
}

// New creates a resolver over the given registry.
func New(snapshots SnapshotProvider) *Resolver {
	return &Resolver{snapshots: snapshots}
}

// Resolve maps one instruction. It fetches one snapshot for the whole call.
func (r *Resolver) Resolve(_ context.Context, req Request) Result {
	return Resolve(r.snapshots.Snapshot(), req)
}

// Resolve maps one instruction against snap.
func Resolve(snap *registry.Snapshot, req Request) Result {
	instruction := strings.TrimSpace(Substitute(req.Instruction, req.Variables))
	tokens := tokenize(instruction)
	if len(tokens) == 0 {
		return Unresolved{Reason: ReasonEmpty}
	}

	verbIdx, intent := findVerb(tokens)
	literal := firstQuoted(tokens)

	// Targets that need no element.
	switch intent {
	case registry.IntentNavigate:
		if loc, ok := findLocation(tokens); ok {
			return Resolved{Action: core.ActionDescriptor{Type: core.ActionNavigate, Value: loc}}
		}
	case registry.IntentWait:
		for i := range tokens {
			if i == verbIdx || tokens[i].quoted {
				continue
			}
			if ms, ok := parseDuration(tokens, i); ok {
				return Resolved{Action: core.ActionDescriptor{Type: core.ActionWait, Value: fmt.Sprint(ms)}}
			}
		}
	}

	app, ok := snap.App(req.AppID)
	if !ok {
		return Unresolved{Reason: ReasonUnknownApp}
	}
	keys := instructionKeys(tokens, verbIdx)

	if intent == registry.IntentNavigate {
		if sc, ok := matchScreen(app, keys); ok {
			return Resolved{
				Action:  core.ActionDescriptor{Type: core.ActionNavigate, Value: sc.Path},
				Element: sc.Name,
			}
		}
	}

	candidates, _ := snap.Candidates(req.AppID, req.ScreenHint)
	candidates = filterByIntent(candidates, intent)

	tied, top := bestCandidates(candidates, keys)
	if top == 0 {
		if intent == registry.IntentAssert && literal != "" {
			return Resolved{Action: core.ActionDescriptor{Type: core.ActionAssert, Value: literal}}
		}
		if intent == "" {
			return Unresolved{Reason: ReasonNoIntent}
		}
		return Unresolved{Reason: ReasonNoElement}
	}
	if distinctSelectors(tied) > 1 {
		names := make([]string, len(tied))
		for i, c := range tied {
			names[i] = c.Name
		}
		return Unresolved{Reason: ReasonAmbiguous, Candidates: names}
	}

	winner := tied[0]
	if intent == "" {
		if !winner.IsMethod() {
			return Unresolved{Reason: ReasonNoIntent}
		}
		intent = registry.IntentCall
	}

	tpl, ok := snap.Template(intent, winner.Type)
	if !ok {
		return Unresolved{Reason: ReasonNoTemplate, Candidates: []string{winner.Name}}
	}

	vars := make(map[string]string, len(req.Variables)+4)
	for k, v := range req.Variables {
		vars[k] = v
	}
	vars["selector"] = winner.Selector
	vars["value"] = extractValue(tokens, verbIdx, winner, literal)
	vars["script"] = winner.Script
	vars["element"] = winner.Name

	selector := tpl.Selector
	if selector == "" {
		selector = "{{selector}}"
	}
	action := core.ActionDescriptor{
		Type:     tpl.Action,
		Selector: Substitute(selector, vars),
		Value:    Substitute(tpl.Value, vars),
	}
	if err := action.Validate(); err != nil {
		return Unresolved{Reason: ReasonInvalid, Candidates: []string{winner.Name}}
	}

	return Resolved{Action: action, Element: winner.Name, Template: tpl}
}

func findVerb(tokens []token) (int, registry.Intent) {
	for i, t := range tokens {
		if t.quoted {
			continue
		}
		if intent, ok := verbs[t.key]; ok {
			return i, intent
		}
	}
	return -1, ""
}

func firstQuoted(tokens []token) string {
	for _, t := range tokens {
		if t.quoted {
			return t.text
		}
	}
	return ""
}

func findLocation(tokens []token) (string, bool) {
	for _, t := range tokens {
		if isLocation(t.text) {
			return t.text, true
		}
	}
	return "", false
}

// instructionKeys returns the folded words and word parts available for
// matching, excluding the verb and quoted literals.
func instructionKeys(tokens []token, verbIdx int) map[string]bool {
	keys := make(map[string]bool, len(tokens)*2)
	for i, t := range tokens {
		if i == verbIdx || t.quoted {
			continue
		}
		keys[t.key] = true
		for _, p := range t.parts {
			keys[p] = true
		}
	}
	return keys
}

func matchScreen(app *registry.App, keys map[string]bool) (registry.Screen, bool) {
	for _, sc := range app.Screens {
		if sc.Path == "" {
			continue
		}
		if keys[fold(sc.Name)] || containsAll(keys, splitName(sc.Name)) {
			return sc, true
		}
	}
	return registry.Screen{}, false
}

func filterByIntent(cands []registry.Candidate, intent registry.Intent) []registry.Candidate {
	if intent == "" {
		return cands
	}
	wantMethod := intent == registry.IntentCall
	out := cands[:0:0]
	for _, c := range cands {
		if c.IsMethod() == wantMethod {
			out = append(out, c)
		}
	}
	return out
}

// score counts how much of a candidate's name (or best alias) the instruction mentions.
// Naming the element exactly beats any partial match.
func score(c registry.Candidate, keys map[string]bool) int {
	parts := splitName(c.Name)
	s := 0
	for _, p := range parts {
		if !stopWords[p] && keys[p] {
			s++
		}
	}
	if keys[fold(c.Name)] {
		s = len(parts) + 1
	}
	for _, alias := range c.Aliases {
		ap := splitName(alias)
		if len(ap) > s && containsAll(keys, ap) {
			s = len(ap)
		}
	}
	return s
}

func bestCandidates(cands []registry.Candidate, keys map[string]bool) ([]registry.Candidate, int) {
	var tied []registry.Candidate
	top := 0
	for _, c := range cands {
		s := score(c, keys)
		switch {
		case s == 0 || s < top:
		case s > top:
			top = s
			tied = []registry.Candidate{c}
		default:
			tied = append(tied, c)
		}
	}
	return tied, top
}

func distinctSelectors(cands []registry.Candidate) int {
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		seen[c.Selector] = true
	}
	return len(seen)
}

func containsAll(keys map[string]bool, parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if !keys[p] {
			return false
		}
	}
	return true
}

// extractValue returns the quoted literal, or the instruction words left after
// removing the verb, the element's own words, type words and stop-words.
func extractValue(tokens []token, verbIdx int, winner registry.Candidate, literal string) string {
	if literal != "" {
		return literal
	}

	own := make(map[string]bool)
	own[fold(winner.Name)] = true
	own[fold(winner.Type)] = true
	for _, p := range splitName(winner.Name) {
		own[p] = true
	}
	for _, alias := range winner.Aliases {
		for _, p := range splitName(alias) {
			own[p] = true
		}
	}

	var words []string
	for i, t := range tokens {
		if i == verbIdx {
			continue
		}
		if own[t.key] || stopWords[t.key] || typeWords[t.key] {
			continue
		}
		if len(t.parts) > 0 && containsAll(own, t.parts) {
			continue
		}
		words = append(words, t.text)
	}
	return strings.Join(words, " ")
}
