package ai

import (
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestBuildSystemPrompt(t *testing.T) {
	for _, p := range Personas() {
		got := BuildSystemPrompt(" " + strings.ToUpper(p) + " ")
		if !strings.Contains(got, "Persona ("+p+")") {
			t.Fatalf("persona %s missing from prompt", p)
		}
		if !strings.HasPrefix(got, basePrompt) {
			t.Fatalf("persona %s missing base rules", p)
		}
	}
	if got := BuildSystemPrompt("unknown"); !strings.Contains(got, "Persona (guide)") {
		t.Fatalf("unknown persona should fall back to guide")
	}
}

func TestToContents(t *testing.T) {
	contents, err := toContents([]Message{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "   "},
		{Role: "USER", Content: "how many points do I have?"},
	})
	if err != nil {
		t.Fatalf("toContents: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("len=%d want 3", len(contents))
	}
	wantRoles := []genai.Role{genai.RoleUser, genai.RoleModel, genai.RoleUser}
	for i, c := range contents {
		if c.Role != string(wantRoles[i]) {
			t.Fatalf("contents[%d].Role=%s want %s", i, c.Role, wantRoles[i])
		}
	}
	if contents[2].Parts[0].Text != "how many points do I have?" {
		t.Fatalf("unexpected text %q", contents[2].Parts[0].Text)
	}
}

func TestToContents_NoUserMessage(t *testing.T) {
	_, err := toContents([]Message{{Role: "assistant", Content: "hello"}})
	if !errors.Is(err, ErrEmptyConversation) {
		t.Fatalf("err=%v want ErrEmptyConversation", err)
	}
}
