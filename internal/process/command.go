package process

import (
	"fmt"
	"strings"
)

// SplitCommand decomposes a command line into an executable and argument
// vector. Single- and double-quoted spans are treated as one argument
// with the quote characters stripped. This mirrors shell tokenization
// for typical invocations only: no variable expansion, no pipes, no
// escapes inside quotes.
func SplitCommand(cmdline string) ([]string, error) {
	var (
		tokens []string
		cur    strings.Builder
		quote  byte
		open   bool
		have   bool
	)
	for i := 0; i < len(cmdline); i++ {
		c := cmdline[i]
		switch {
		case open:
			if c == quote {
				open = false
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			open = true
			quote = c
			have = true
		case c == ' ' || c == '\t':
			if have {
				tokens = append(tokens, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteByte(c)
			have = true
		}
	}
	if open {
		return nil, fmt.Errorf("unterminated %c quote in command %q", quote, cmdline)
	}
	if have {
		tokens = append(tokens, cur.String())
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return tokens, nil
}
