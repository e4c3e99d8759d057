package setting

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"thetaauto/domain/core"
)

// Encode renders v in the engine's configuration syntax. Nested groups are
// indented by four spaces per level.
func Encode(v Value) (string, error) {
	var b strings.Builder
	if err := encode(&b, v, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encode(b *strings.Builder, v Value, indent int) error {
	switch v.kind {
	case KindString:
		quote(b, v.str)
	case KindBool:
		if v.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindInt:
		b.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		s, err := formatFloat(v.f)
		if err != nil {
			return err
		}
		b.WriteString(s)
	case KindList:
		b.WriteString("(")
		for i, item := range v.list {
			if i > 0 {
				b.WriteString(",")
			}
			if err := encode(b, item, indent+4); err != nil {
				return err
			}
		}
		b.WriteString(")")
	case KindMap:
		b.WriteString("{\n")
		for _, key := range v.m.Keys() {
			b.WriteString(strings.Repeat(" ", indent+4))
			b.WriteString(key)
			b.WriteString(" = ")
			if err := encode(b, v.m[key], indent+4); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			b.WriteString(";\n")
		}
		b.WriteString(strings.Repeat(" ", indent))
		b.WriteString("}")
	default:
		return fmt.Errorf("%w: kind %d", core.ErrInvalidValue, v.kind)
	}
	return nil
}

// quote writes s as a string literal using the escapes the config parser
// understands. Other control bytes become \x escapes; UTF-8 passes through.
func quote(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(b, `\x%02x`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
}

func formatFloat(f float64) (string, error) {
	switch {
	case math.IsNaN(f):
		return "", fmt.Errorf("%w: NaN", core.ErrInvalidValue)
	case math.IsInf(f, 1):
		return `"inf"`, nil
	case math.IsInf(f, -1):
		return `"-inf"`, nil
	}
	return strconv.FormatFloat(f, 'e', 5, 64), nil
}

// Document is the set of top-level settings of one configuration file
type Document Map

// Encode renders every top-level setting as "name = value;" in sorted name order
func (d Document) Encode() (string, error) {
	var b strings.Builder
	for _, key := range Map(d).Keys() {
		s, err := Encode(d[key])
		if err != nil {
			return "", fmt.Errorf("%s: %w", key, err)
		}
		b.WriteString(key)
		b.WriteString(" = ")
		b.WriteString(s)
		b.WriteString(";\n")
	}
	return b.String(), nil
}
