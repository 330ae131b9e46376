package soap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the date layout the backend accepts and returns.
const DateFormat = "2006-01-02T15:04:05Z"

// Namespace prefix used for body elements.
const Prefix = "ret"

// Field is a single element of an ordered payload. Value is a scalar, nil, or
// a nested Fields.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered mapping from element name to value.
type Fields []Field

// F is shorthand for building a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Get returns the value of the first field named key.
func (f Fields) Get(key string) (any, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

// Set replaces the first field named key or appends a new one.
func (f Fields) Set(key string, value any) Fields {
	for i, field := range f {
		if field.Key == key {
			f[i].Value = value
			return f
		}
	}
	return append(f, Field{Key: key, Value: value})
}

// Without returns a copy of f without the named fields.
func (f Fields) Without(keys ...string) Fields {
	out := make(Fields, 0, len(f))
next:
	for _, field := range f {
		for _, k := range keys {
			if field.Key == k {
				continue next
			}
		}
		out = append(out, field)
	}
	return out
}

// Map flattens the top level of f into a map. Nested Fields are kept as is.
func (f Fields) Map() map[string]any {
	m := make(map[string]any, len(f))
	for _, field := range f {
		if _, ok := m[field.Key]; !ok {
			m[field.Key] = field.Value
		}
	}
	return m
}

// Builder serialises ordered payloads into SOAP body XML.
type Builder struct {
	// Raw inserts scalar values verbatim instead of escaping them.
	Raw bool
}

// Serialize renders fields with the default, escaping builder.
func Serialize(fields Fields) string {
	return Builder{}.Serialize(fields)
}

// Serialize renders fields in order. Keys are cut at the first '<', which lets
// one payload carry several siblings with the same element name
// ("OrderItem<1>", "OrderItem<2>"). A nested payload under a key ending in
// "XML" is wrapped in CDATA and its elements carry no namespace prefix.
// nil and empty string values are omitted.
func (b Builder) Serialize(fields Fields) string {
	var sb strings.Builder
	b.write(&sb, fields, Prefix+":")
	return sb.String()
}

func (b Builder) write(sb *strings.Builder, fields Fields, prefix string) {
	for _, field := range fields {
		name := ElementName(field.Key)
		if name == "" {
			continue
		}

		switch v := field.Value.(type) {
		case Fields:
			if strings.HasSuffix(name, "XML") {
				var inner strings.Builder
				b.write(&inner, v, "")
				sb.WriteString("<" + name + ">")
				writeCDATA(sb, inner.String())
				sb.WriteString("</" + name + ">")
				continue
			}
			sb.WriteString("<" + prefix + name + ">")
			b.write(sb, v, prefix)
			sb.WriteString("</" + prefix + name + ">")
		default:
			text, ok := FormatValue(v)
			if !ok {
				continue
			}
			if !b.Raw {
				text = escape(text)
			}
			sb.WriteString("<" + prefix + name + ">" + text + "</" + prefix + name + ">")
		}
	}
}

// ElementName strips any "<suffix>" from a payload key.
func ElementName(key string) string {
	if i := strings.IndexByte(key, '<'); i >= 0 {
		return key[:i]
	}
	return key
}

// FormatValue renders a scalar the way the backend expects it. The second
// return value is false for values that should be omitted.
func FormatValue(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		if t {
			return "1", true
		}
		return "0", true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case decimal.Decimal:
		return t.String(), true
	case *decimal.Decimal:
		if t == nil {
			return "", false
		}
		return t.String(), true
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		return t.UTC().Format(DateFormat), true
	case fmt.Stringer:
		s := t.String()
		return s, s != ""
	}
	s := fmt.Sprint(v)
	return s, s != ""
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string {
	return textEscaper.Replace(s)
}

// writeCDATA wraps s in a CDATA section, splitting any "]]>" terminator
// across two sections.
func writeCDATA(sb *strings.Builder, s string) {
	sb.WriteString("<![CDATA[")
	sb.WriteString(strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>"))
	sb.WriteString("]]>")
}
