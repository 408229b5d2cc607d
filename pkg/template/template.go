package template

import (
	"regexp"
	"strconv"
	"strings"
)

// Item is one named unit of work inside a group. Value carries the
// comma-separated positional arguments fed into a tool template.
type Item struct {
	Name  string `json:"name" mapstructure:"name"`
	Value string `json:"value" mapstructure:"value"`
}

// Command is the result of expanding an Item against a tool template.
// Args holds the comma-split, trimmed positional values; FullCmd is the
// ready-to-execute command line.
type Command struct {
	Name    string
	Args    []string
	FullCmd string
}

var (
	positionalRe = regexp.MustCompile(`\$(\d+)`)
	namedRe      = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// SplitValues splits an item value on commas and trims each segment.
// Empty segments are kept so positional slots can be skipped on purpose.
func SplitValues(value string) []string {
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// MaxPlaceholder returns the highest $N index referenced by tmpl, or 0
// when the template contains no positional placeholders.
func MaxPlaceholder(tmpl string) int {
	maxIdx := 0
	for _, m := range positionalRe.FindAllStringSubmatch(tmpl, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxIdx {
			maxIdx = n
		}
	}
	return maxIdx
}

// Expand substitutes the item's positional values and the group's named
// parameters into tmpl. Positional placeholders resolve in a single pass
// with longest-match digit runs, so $1 never corrupts $10 and a value
// substituted earlier is never re-substituted. Named substitution runs
// strictly after all positionals; the two namespaces never satisfy each
// other's placeholders. Unmatched placeholders of either kind stay
// verbatim. Template whitespace is preserved as written.
func Expand(tmpl string, item Item, params map[string]string) Command {
	args := SplitValues(item.Value)
	out := positionalRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		n, err := strconv.Atoi(tok[1:])
		if err != nil || n < 1 || n > len(args) {
			return tok
		}
		return args[n-1]
	})
	out = namedRe.ReplaceAllStringFunc(out, func(tok string) string {
		if v, ok := params[tok[1:]]; ok {
			return v
		}
		return tok
	})
	return Command{Name: item.Name, Args: args, FullCmd: out}
}

// ParseItem resolves an item into a concrete command line for the given
// tool. When the tool registers a template, the item is expanded through
// it; positional values beyond the highest placeholder the original
// template references are appended space-joined, which lets a template
// define a fixed prefix while items carry trailing flags. A template
// with no placeholders is treated as a complete literal command. With no
// template at all the raw item value is the command, prefixed by the
// tool token when one is present.
func ParseItem(tool, toolTemplate string, item Item, params map[string]string) Command {
	if toolTemplate == "" {
		full := item.Value
		if tool != "" {
			full = tool + " " + item.Value
		}
		return Command{Name: item.Name, Args: SplitValues(item.Value), FullCmd: full}
	}
	maxIdx := MaxPlaceholder(toolTemplate)
	cmd := Expand(toolTemplate, item, params)
	if maxIdx > 0 && len(cmd.Args) > maxIdx {
		cmd.FullCmd = cmd.FullCmd + " " + strings.Join(cmd.Args[maxIdx:], " ")
	}
	return cmd
}
