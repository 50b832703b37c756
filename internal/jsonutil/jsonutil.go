// Package jsonutil formats values for terminal output.
package jsonutil

import (
	"bytes"
	"sort"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var formatter, indented *prettyjson.Formatter

func init() {
	formatter = prettyjson.NewFormatter()
	formatter.Indent = 0
	formatter.Newline = ""
	indented = prettyjson.NewFormatter()
}

// SetColor enables or disables colored output.
func SetColor(enabled bool) {
	formatter.DisabledColor = !enabled
	indented.DisabledColor = !enabled
}

// MarshalCompactPretty formats the fields of struct v one per line as "name: value", sorted by name.
// Field names are taken from "structs" tags.
func MarshalCompactPretty(v interface{}) ([]byte, error) {
	return MarshalMap(structs.Map(v))
}

// MarshalMap formats m the same way as MarshalCompactPretty.
func MarshalMap(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := formatter.Marshal(m[name])
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}

// MarshalPretty formats v as indented JSON, colored unless disabled with SetColor.
func MarshalPretty(v interface{}) ([]byte, error) {
	return indented.Marshal(v)
}
