package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Snapshot is an immutable view of the registry. It is safe for concurrent use.
type Snapshot struct {
	apps      map[string]*App
	order     []string
	templates map[templateKey]ActionTemplate
}

type templateKey struct {
	intent      Intent
	elementType string
}

// fold returns the case-insensitive comparison key for a name.
// A Caser is stateful, so one is created per call.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// NewSnapshot builds a snapshot from apps and templates.
// Apps and templates are copied; later changes to the arguments are not visible.
func NewSnapshot(apps []App, templates []ActionTemplate) (*Snapshot, error) {
	s := &Snapshot{
		apps:      make(map[string]*App, len(apps)),
		templates: make(map[templateKey]ActionTemplate, len(templates)),
	}

	for _, a := range apps {
		if a.ID == "" {
			return nil, fmt.Errorf("app %q: id is required", a.Name)
		}
		if _, dup := s.apps[a.ID]; dup {
			return nil, fmt.Errorf("duplicate app id %q", a.ID)
		}
		app := copyApp(a)
		screens := make(map[string]bool, len(app.Screens))
		for _, sc := range app.Screens {
			key := fold(sc.Name)
			if screens[key] {
				return nil, fmt.Errorf("app %s: duplicate screen %q", app.ID, sc.Name)
			}
			screens[key] = true

			names := make(map[string]bool, len(sc.Elements)+len(sc.Methods))
			for _, el := range sc.Elements {
				if el.Name == "" || el.Type == "" || el.Selector == "" {
					return nil, fmt.Errorf("app %s screen %s: element needs name, type and selector", app.ID, sc.Name)
				}
				if names[fold(el.Name)] {
					return nil, fmt.Errorf("app %s screen %s: duplicate element %q", app.ID, sc.Name, el.Name)
				}
				names[fold(el.Name)] = true
			}
			for _, m := range sc.Methods {
				if m.Name == "" || m.Script == "" {
					return nil, fmt.Errorf("app %s screen %s: method needs name and script", app.ID, sc.Name)
				}
				if names[fold(m.Name)] {
					return nil, fmt.Errorf("app %s screen %s: duplicate element %q", app.ID, sc.Name, m.Name)
				}
				names[fold(m.Name)] = true
			}
		}
		s.apps[app.ID] = app
		s.order = append(s.order, app.ID)
	}
	sort.Strings(s.order)

	for _, t := range templates {
		intent, err := ParseIntent(string(t.Intent))
		if err != nil {
			return nil, fmt.Errorf("template: %w", err)
		}
		if t.ElementType == "" && intent != IntentNavigate && intent != IntentWait {
			return nil, fmt.Errorf("template %s: elementType is required", intent)
		}
		if t.Action == "" {
			return nil, fmt.Errorf("template %s/%s: action is required", intent, t.ElementType)
		}
		t.Intent = intent
		key := templateKey{intent: intent, elementType: fold(t.ElementType)}
		if _, dup := s.templates[key]; dup {
			return nil, fmt.Errorf("duplicate template %s/%s", intent, t.ElementType)
		}
		s.templates[key] = t
	}

	return s, nil
}

// Empty returns a snapshot with no apps and no templates.
func Empty() *Snapshot {
	s, _ := NewSnapshot(nil, nil)
	return s
}

// App returns the app with the given id.
func (s *Snapshot) App(id string) (*App, bool) {
	a, ok := s.apps[id]
	if !ok {
		return nil, false
	}
	return copyApp(*a), true
}

// Apps returns all apps sorted by id.
func (s *Snapshot) Apps() []App {
	out := make([]App, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *copyApp(*s.apps[id]))
	}
	return out
}

// AppForURL returns the app whose base URL is the longest prefix of rawURL.
// Scheme and host must match exactly (host case-insensitively).
func (s *Snapshot) AppForURL(rawURL string) (*App, bool) {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || target.Host == "" {
		return nil, false
	}

	var best *App
	bestLen := -1
	for _, id := range s.order {
		app := s.apps[id]
		base, err := url.Parse(app.BaseURL)
		if err != nil || base.Host == "" {
			continue
		}
		if !strings.EqualFold(base.Scheme, target.Scheme) || !strings.EqualFold(base.Host, target.Host) {
			continue
		}
		prefix := strings.TrimSuffix(base.Path, "/")
		if prefix != "" && target.Path != prefix && !strings.HasPrefix(target.Path, prefix+"/") {
			continue
		}
		if len(prefix) > bestLen {
			best, bestLen = app, len(prefix)
		}
	}
	if best == nil {
		return nil, false
	}
	return copyApp(*best), true
}

// Candidates returns the elements and methods an instruction for appID may bind to.
// A known screenHint narrows the set to that screen; otherwise every screen is searched.
func (s *Snapshot) Candidates(appID, screenHint string) ([]Candidate, bool) {
	app, ok := s.apps[appID]
	if !ok {
		return nil, false
	}

	screens := app.Screens
	if screenHint != "" {
		hint := fold(screenHint)
		for _, sc := range app.Screens {
			if fold(sc.Name) == hint {
				screens = []Screen{sc}
				break
			}
		}
	}

	var out []Candidate
	for _, sc := range screens {
		for _, el := range sc.Elements {
			out = append(out, Candidate{
				Screen:   sc.Name,
				Name:     el.Name,
				Type:     el.Type,
				Selector: el.Selector,
				Aliases:  append([]string(nil), el.Aliases...),
			})
		}
		for _, m := range sc.Methods {
			out = append(out, Candidate{
				Screen:   sc.Name,
				Name:     m.Name,
				Type:     MethodType,
				Selector: m.Name,
				Script:   m.Script,
				Aliases:  append([]string(nil), m.Aliases...),
			})
		}
	}
	return out, true
}

// Template returns the action template for (intent, elementType).
func (s *Snapshot) Template(intent Intent, elementType string) (ActionTemplate, bool) {
	t, ok := s.templates[templateKey{intent: intent, elementType: fold(elementType)}]
	return t, ok
}

// TemplateCount returns the number of templates in the snapshot.
func (s *Snapshot) TemplateCount() int {
	return len(s.templates)
}

func copyApp(a App) *App {
	c := a
	c.Screens = make([]Screen, len(a.Screens))
	for i, sc := range a.Screens {
		c.Screens[i] = Screen{
			Name:     sc.Name,
			Path:     sc.Path,
			Elements: append([]ScreenElement(nil), sc.Elements...),
			Methods:  append([]ScreenMethod(nil), sc.Methods...),
		}
	}
	return &c
}
