package config

import (
	"os"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// GetEnvObject returns a cty object holding the process environment, with
// names rewritten into valid HCL identifiers.
func GetEnvObject() cty.Value {
	envMap := make(map[string]cty.Value)

	for _, envVar := range os.Environ() {
		key, value, ok := strings.Cut(envVar, "=")
		if !ok {
			continue
		}
		envMap[identifier(key)] = cty.StringVal(value)
	}

	if len(envMap) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(envMap)
}

// identifier replaces every character that cannot appear in an HCL
// identifier with an underscore.
func identifier(name string) string {
	if name == "" {
		return "_"
	}

	b := []byte(name)
	for i, ch := range b {
		letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
		switch {
		case letter:
		case i > 0 && ((ch >= '0' && ch <= '9') || ch == '-'):
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
