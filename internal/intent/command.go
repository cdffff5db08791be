package intent

import (
	"errors"
	"strings"
)

// ErrNotACommand marks inbound text that is not a pay command.
var ErrNotACommand = errors.New("not a pay command")

// Keywords accepted as the first token of a pay command.
var Keywords = []string{"PAY", "PAGAR"}

const maxPreviewRunes = 160

// Command is a parsed inbound pay command.
type Command struct {
	Keyword          string
	AmountText       string
	AmountMinorUnits int64
	Code             string
}

// Preview is the bounded verbatim rendering stored on receipts.
func (c Command) Preview() string {
	p := c.Keyword + " " + c.AmountText + " " + c.Code
	if rs := []rune(p); len(rs) > maxPreviewRunes {
		return string(rs[:maxPreviewRunes])
	}
	return p
}

// ParseCommand parses "PAY <amount> <code>" case-insensitively.
func ParseCommand(text string) (Command, error) {
	parts := strings.Fields(strings.ToUpper(text))
	if len(parts) < 3 || !isKeyword(parts[0]) {
		return Command{}, ErrNotACommand
	}
	minor, err := ParseAmount(parts[1])
	if err != nil {
		return Command{}, err
	}
	return Command{
		Keyword:          parts[0],
		AmountText:       parts[1],
		AmountMinorUnits: minor,
		Code:             parts[2],
	}, nil
}

func isKeyword(s string) bool {
	for _, k := range Keywords {
		if s == k {
			return true
		}
	}
	return false
}
