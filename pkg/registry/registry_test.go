package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/devicelab-dev/webtest-runner/pkg/core"
)

func loadTestdata(t *testing.T) *Snapshot {
	t.Helper()
	s, err := FileSource{Path: filepath.Join("testdata", "registry.yaml")}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s
}

func TestFileSource_Load(t *testing.T) {
	s := loadTestdata(t)

	apps := s.Apps()
	if len(apps) != 2 || apps[0].ID != "admin" || apps[1].ID != "shop" {
		t.Fatalf("Apps() = %v, want [admin shop]", apps)
	}
	if got := s.TemplateCount(); got != 8 {
		t.Errorf("TemplateCount() = %d, want 8", got)
	}

	tpl, ok := s.Template(IntentFill, "INPUT")
	if !ok {
		t.Fatal("Template(FILL, INPUT) not found")
	}
	if tpl.Action != core.ActionFill || tpl.Value != "{{value}}" {
		t.Errorf("Template(FILL, input) = %+v", tpl)
	}
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown top-level key", "widgets: []"},
		{"element without selector", `
apps:
  - id: a
    screens:
      - name: s
        elements:
          - name: x
            type: button
`},
		{"bad intent", `
templates:
  - intent: HOVER
    elementType: button
    action: click
`},
		{"bad action", `
templates:
  - intent: CLICK
    elementType: button
    action: hover
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should fail")
			}
			if !strings.Contains(err.Error(), "validation failed") {
				t.Errorf("Parse() error = %v, want schema validation error", err)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	s, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if len(s.Apps()) != 0 {
		t.Error("empty document produced apps")
	}
}

func TestNewSnapshot_Duplicates(t *testing.T) {
	screen := Screen{Name: "login", Elements: []ScreenElement{
		{Name: "submitButton", Type: "button", Selector: "#a"},
		{Name: "SUBMITBUTTON", Type: "button", Selector: "#b"},
	}}
	if _, err := NewSnapshot([]App{{ID: "a", Screens: []Screen{screen}}}, nil); err == nil {
		t.Error("duplicate element names (case-insensitive) should be rejected")
	}

	if _, err := NewSnapshot([]App{{ID: "a"}, {ID: "a"}}, nil); err == nil {
		t.Error("duplicate app ids should be rejected")
	}

	tpls := []ActionTemplate{
		{Intent: IntentClick, ElementType: "button", Action: core.ActionClick},
		{Intent: IntentClick, ElementType: "Button", Action: core.ActionClick},
	}
	if _, err := NewSnapshot(nil, tpls); err == nil {
		t.Error("duplicate templates should be rejected")
	}
}

func TestSnapshot_AppForURL(t *testing.T) {
	s := loadTestdata(t)

	tests := []struct {
		url  string
		want string
	}{
		{"https://shop.example.com/login", "shop"},
		{"https://SHOP.example.com/", "shop"},
		{"https://shop.example.com/admin/users", "admin"},
		{"https://shop.example.com/admin", "admin"},
		{"https://shop.example.com/administrator", "shop"},
		{"http://shop.example.com/login", ""},
		{"https://other.example.com/", ""},
		{"not a url", ""},
	}

	for _, tt := range tests {
		app, ok := s.AppForURL(tt.url)
		got := ""
		if ok {
			got = app.ID
		}
		if got != tt.want {
			t.Errorf("AppForURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestSnapshot_Candidates(t *testing.T) {
	s := loadTestdata(t)

	all, ok := s.Candidates("shop", "")
	if !ok {
		t.Fatal("Candidates(shop) not found")
	}
	if len(all) != 7 {
		t.Errorf("Candidates(shop, \"\") = %d, want 7", len(all))
	}

	login, _ := s.Candidates("shop", "LOGIN")
	if len(login) != 4 {
		t.Errorf("Candidates(shop, LOGIN) = %d, want 4", len(login))
	}

	unknown, _ := s.Candidates("shop", "nope")
	if len(unknown) != len(all) {
		t.Error("unknown screen hint should search every screen")
	}

	checkout, _ := s.Candidates("shop", "checkout")
	var method *Candidate
	for i := range checkout {
		if checkout[i].IsMethod() {
			method = &checkout[i]
		}
	}
	if method == nil || method.Script != "window.shop.cart.clear()" || method.Selector != "clearCart" {
		t.Errorf("method candidate = %+v", method)
	}

	if _, ok := s.Candidates("missing", ""); ok {
		t.Error("Candidates(missing) should report unknown app")
	}
}

func TestSnapshot_IsImmutable(t *testing.T) {
	apps := []App{{ID: "a", Screens: []Screen{{Name: "s", Elements: []ScreenElement{
		{Name: "x", Type: "button", Selector: "#x"},
	}}}}}
	s, err := NewSnapshot(apps, nil)
	if err != nil {
		t.Fatal(err)
	}
	apps[0].Screens[0].Elements[0].Selector = "#changed"

	app, _ := s.App("a")
	if app.Screens[0].Elements[0].Selector != "#x" {
		t.Error("snapshot observed a change to its input")
	}
	app.Screens[0].Elements[0].Selector = "#mutated"
	again, _ := s.App("a")
	if again.Screens[0].Elements[0].Selector != "#x" {
		t.Error("snapshot observed a change to a returned app")
	}
}

func TestCatalog_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	writeFile(t, path, `
apps:
  - id: one
    baseUrl: https://one.example.com
`)

	c := NewCatalog(FileSource{Path: path})
	if len(c.Snapshot().Apps()) != 0 {
		t.Error("catalog should start empty")
	}
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	before := c.Snapshot()

	writeFile(t, path, `
apps:
  - id: two
    baseUrl: https://two.example.com
`)
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if _, ok := before.App("one"); !ok {
		t.Error("previously fetched snapshot changed after reload")
	}
	app, err := c.ResolveApp(context.Background(), "https://two.example.com/x")
	if err != nil || app == nil || app.ID != "two" {
		t.Errorf("ResolveApp() = %v, %v", app, err)
	}

	writeFile(t, path, "apps: [{}]")
	if err := c.Reload(context.Background()); err == nil {
		t.Error("Reload() should fail on invalid file")
	}
	if _, ok := c.Snapshot().App("two"); !ok {
		t.Error("failed reload replaced the current snapshot")
	}
}

func TestCatalog_ConcurrentReads(t *testing.T) {
	c := NewStaticCatalog(loadTestdata(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s := c.Snapshot()
				if _, ok := s.Template(IntentClick, "button"); !ok {
					t.Error("template missing")
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		if err := c.Reload(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
}

func TestParseIntent(t *testing.T) {
	if got, err := ParseIntent("fill"); err != nil || got != IntentFill {
		t.Errorf("ParseIntent(fill) = %v, %v", got, err)
	}
	if _, err := ParseIntent("hover"); err == nil {
		t.Error("ParseIntent(hover) should fail")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
