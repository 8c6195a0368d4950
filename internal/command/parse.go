// Package command turns user supplied command strings into an argument
// vector and, on platforms that dispatch executables by extension, resolves
// the program to a concrete file.
package command

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrEmpty             = errors.New("command is empty")
	ErrUnterminatedQuote = errors.New("unclosed quote in command")
	ErrShellOperator     = errors.New("shell operators are not supported without a shell; use a script or remove operators")
)

// Parse splits command into a program and its arguments.
//
// Fields are separated by whitespace outside double quotes. A double quote
// toggles grouping and \" produces a literal quote; any other backslash is
// kept verbatim. Unquoted |, &, < and > are rejected because no shell is
// involved in launching the program.
func Parse(command string) (string, []string, error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", nil, ErrEmpty
	}

	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)
	runes := []rune(trimmed)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case !inQuotes && isOperator(r):
			return "", nil, ErrShellOperator
		case !inQuotes && unicode.IsSpace(r):
			if current.Len() > 0 {
				fields = append(fields, current.String())
				current.Reset()
			}
		case r == '\\':
			if i+1 < len(runes) && runes[i+1] == '"' {
				current.WriteRune('"')
				i++
				continue
			}
			current.WriteRune('\\')
		default:
			current.WriteRune(r)
		}
	}

	if inQuotes {
		return "", nil, ErrUnterminatedQuote
	}
	if current.Len() > 0 {
		fields = append(fields, current.String())
	}
	if len(fields) == 0 {
		return "", nil, ErrEmpty
	}
	return fields[0], fields[1:], nil
}

func isOperator(r rune) bool {
	switch r {
	case '|', '&', '<', '>':
		return true
	}
	return false
}
