package process

import (
	"reflect"
	"testing"
)

func TestSplitCommandPlain(t *testing.T) {
	got, err := SplitCommand("node server.js --port 3000")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"node", "server.js", "--port", "3000"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSplitCommandQuotes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`sh -c 'echo hi there'`, []string{"sh", "-c", "echo hi there"}},
		{`echo "hello world" plain`, []string{"echo", "hello world", "plain"}},
		{`echo "it's fine"`, []string{"echo", "it's fine"}},
		{`echo ''`, []string{"echo", ""}},
		{`echo a"b c"d`, []string{"echo", "ab cd"}},
	}
	for _, tc := range cases {
		got, err := SplitCommand(tc.in)
		if err != nil {
			t.Errorf("SplitCommand(%q): %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitCommand(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSplitCommandCollapsesWhitespace(t *testing.T) {
	got, err := SplitCommand("  ls   -la\t/tmp ")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	want := []string{"ls", "-la", "/tmp"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSplitCommandErrors(t *testing.T) {
	if _, err := SplitCommand("echo 'unterminated"); err == nil {
		t.Fatalf("expected error for unterminated quote")
	}
	if _, err := SplitCommand("   "); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestParseRestartPolicy(t *testing.T) {
	for _, s := range []string{"always", "never", "unless-explicitly-stopped"} {
		if _, err := ParseRestartPolicy(s); err != nil {
			t.Errorf("ParseRestartPolicy(%q): %v", s, err)
		}
	}
	if p, err := ParseRestartPolicy(""); err != nil || p != RestartAlways {
		t.Errorf("empty policy should default to always, got %v %v", p, err)
	}
	if _, err := ParseRestartPolicy("sometimes"); err == nil {
		t.Errorf("expected error for unknown policy")
	}
}
