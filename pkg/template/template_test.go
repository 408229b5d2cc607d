package template

import (
	"reflect"
	"testing"
)

func TestSplitValuesTrimsAndKeepsEmpties(t *testing.T) {
	got := SplitValues(" a , b ,, c ")
	want := []string{"a", "b", "", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitValues: got %v want %v", got, want)
	}
}

func TestExpandBasicSubstitution(t *testing.T) {
	cmd := Expand("node $1.js --env $2", Item{Name: "web", Value: "server, prod"}, nil)
	if cmd.FullCmd != "node server.js --env prod" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
	if cmd.Name != "web" {
		t.Fatalf("name must come from the item, got %q", cmd.Name)
	}
}

func TestExpandRepeatedPlaceholder(t *testing.T) {
	cmd := Expand("echo $1 and $1 again", Item{Name: "t", Value: "test"}, nil)
	if cmd.FullCmd != "echo test and test again" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
}

func TestExpandHighIndexSafety(t *testing.T) {
	cmd := Expand("$1 $10", Item{Name: "t", Value: "a,b,c,d,e,f,g,h,i,j"}, nil)
	if cmd.FullCmd != "a j" {
		t.Fatalf("$1 corrupted $10: got %q", cmd.FullCmd)
	}
}

func TestExpandUnmatchedPositionalVerbatim(t *testing.T) {
	cmd := Expand("run $1 $2 $10", Item{Name: "t", Value: "only"}, nil)
	if cmd.FullCmd != "run only $2 $10" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
}

func TestExpandNamedAfterPositional(t *testing.T) {
	cmd := Expand("node $1.js --name $name", Item{Name: "srv", Value: "server"}, map[string]string{"name": "Alice"})
	if cmd.FullCmd != "node server.js --name Alice" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
}

func TestExpandUnmatchedNamedVerbatim(t *testing.T) {
	cmd := Expand("run --env $env", Item{Name: "t", Value: "x"}, map[string]string{"name": "Bob"})
	if cmd.FullCmd != "run --env $env" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
}

func TestExpandNamedPrefixKeys(t *testing.T) {
	cmd := Expand("$host $hostname", Item{Name: "t", Value: ""},
		map[string]string{"host": "a", "hostname": "b"})
	if cmd.FullCmd != "a b" {
		t.Fatalf("prefix-sharing keys resolved wrong: got %q", cmd.FullCmd)
	}
}

func TestExpandPreservesWhitespace(t *testing.T) {
	cmd := Expand("run  $1   end", Item{Name: "t", Value: "v"}, nil)
	if cmd.FullCmd != "run  v   end" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
}

func TestMaxPlaceholder(t *testing.T) {
	cases := map[string]int{
		"no placeholders":  0,
		"run $1":           1,
		"run $2 $10 $3":    10,
		"named only $port": 0,
	}
	for tmpl, want := range cases {
		if got := MaxPlaceholder(tmpl); got != want {
			t.Errorf("MaxPlaceholder(%q) = %d, want %d", tmpl, got, want)
		}
	}
}

func TestParseItemSurplusArgsAppended(t *testing.T) {
	cmd := ParseItem("node", "node $1.js", Item{Name: "srv", Value: "server, --verbose, --port=3000"}, nil)
	if cmd.FullCmd != "node server.js --verbose --port=3000" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
}

func TestParseItemLiteralTemplateNoSurplus(t *testing.T) {
	cmd := ParseItem("fixed", "echo hello", Item{Name: "a", Value: "x, y"}, nil)
	if cmd.FullCmd != "echo hello" {
		t.Fatalf("template without placeholders must stay literal, got %q", cmd.FullCmd)
	}
}

func TestParseItemNoTemplateFallback(t *testing.T) {
	cmd := ParseItem("mytool", "", Item{Name: "a", Value: "run --fast"}, nil)
	if cmd.FullCmd != "mytool run --fast" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
	cmd = ParseItem("", "", Item{Name: "a", Value: "ls -la"}, nil)
	if cmd.FullCmd != "ls -la" {
		t.Fatalf("got %q", cmd.FullCmd)
	}
}

func TestExpandIsRederivable(t *testing.T) {
	item := Item{Name: "w", Value: "job, 1"}
	a := Expand("run $1 --n $2", item, nil)
	b := Expand("run $1 --n $2", item, nil)
	if a.FullCmd != b.FullCmd || !reflect.DeepEqual(a.Args, b.Args) {
		t.Fatalf("expansion not deterministic: %v vs %v", a, b)
	}
}
