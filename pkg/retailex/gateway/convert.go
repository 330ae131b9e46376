package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/google/uuid"
	"github.com/natserract/retailex/pkg/retailex/mapping"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"github.com/shopspring/decimal"
)

// commonRegistry holds the conversions every gateway uses.
func commonRegistry(channel func() string) *mapping.Registry {
	return mapping.NewRegistry().
		NoArg("channelId", func() (any, error) { return channel(), nil }).
		NoArg("randomPassword", func() (any, error) { return randomPassword(), nil }).
		Value("decimal", func(v any) (any, error) { return optionalDecimal(v) }).
		Value("flag", func(v any) (any, error) {
			if v == nil {
				return nil, nil
			}
			return flag(v), nil
		}).
		Value("date", func(v any) (any, error) { return formatDate(v) }).
		Value("lower", func(v any) (any, error) {
			s, _ := formatScalar(v)
			return strings.ToLower(s), nil
		}).
		Value("sku", func(v any) (any, error) {
			s, _ := formatScalar(v)
			if s == "" {
				return nil, nil
			}
			return SKU(s), nil
		}).
		Value("productIdFromSku", func(v any) (any, error) {
			s, _ := formatScalar(v)
			id, ok := ProductIDFromSKU(s)
			if !ok {
				return nil, fmt.Errorf("sku %q does not carry a backend product id", s)
			}
			return id, nil
		})
}

func randomPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func formatScalar(v any) (string, bool) {
	s, ok := soap.FormatValue(v)
	return strings.TrimSpace(s), ok
}

// toDecimal parses numbers the backend or hub hand us.
func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		if strings.TrimSpace(t) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(t))
	case nil:
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("cannot convert %T to a number", v)
}

func optionalDecimal(v any) (any, error) {
	if s, ok := v.(string); v == nil || (ok && strings.TrimSpace(s) == "") {
		return nil, nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// flag normalises the truthy values of both sides to 1 or 0.
func flag(v any) int {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
	case int:
		if t != 0 {
			return 1
		}
	case int64:
		if t != 0 {
			return 1
		}
	case float64:
		if t != 0 {
			return 1
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y":
			return 1
		}
	}
	return 0
}

func formatDate(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if t.IsZero() {
			return nil, nil
		}
		return t.UTC().Format(soap.DateFormat), nil
	case string:
		if t == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", soap.DateFormat} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC().Format(soap.DateFormat), nil
			}
		}
		return nil, fmt.Errorf("unrecognised date %q", t)
	}
	return nil, fmt.Errorf("cannot format %T as a date", v)
}

// rows returns the child elements of every node matching expr as name→text.
func rows(body *xmlquery.Node, expr string) []map[string]string {
	if body == nil {
		return nil
	}
	var out []map[string]string
	for _, n := range xmlquery.Find(body, expr) {
		out = append(out, row(n))
	}
	return out
}

func row(n *xmlquery.Node) map[string]string {
	r := make(map[string]string)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			r[c.Data] = strings.TrimSpace(c.InnerText())
		}
	}
	return r
}

// matchRow returns the row whose key column equals want. A row that lacks the
// column is trusted only when it is the sole row.
func matchRow(rs []map[string]string, key, want string, equal func(a, b string) bool) (map[string]string, bool) {
	for _, r := range rs {
		if r[key] != "" && equal(r[key], want) {
			return r, true
		}
	}
	if len(rs) == 1 && rs[0][key] == "" {
		return rs[0], true
	}
	return nil, false
}

// value reads name from n as an attribute, else as a child element.
func value(n *xmlquery.Node, name string) string {
	if n == nil {
		return ""
	}
	if v := n.SelectAttr(name); v != "" {
		return strings.TrimSpace(v)
	}
	if c := n.SelectElement(name); c != nil {
		return strings.TrimSpace(c.InnerText())
	}
	return ""
}

// result reads the Result/id pair of a create-update response element.
func result(body *xmlquery.Node, element, idName string) (string, string, error) {
	if body == nil {
		return "", "", fmt.Errorf("%w: empty body", ErrUnexpectedResponse)
	}
	n := xmlquery.FindOne(body, "//"+element)
	if n == nil {
		return "", "", fmt.Errorf("%w: no %s element", ErrUnexpectedResponse, element)
	}
	res := value(n, "Result")
	if res != "" && !strings.EqualFold(res, "Success") {
		msg := value(n, "Message")
		if msg == "" {
			msg = res
		}
		return res, "", fmt.Errorf("backend rejected %s: %s", element, msg)
	}
	return res, value(n, idName), nil
}

// toAttributes converts a backend row into hub attributes.
func toAttributes(r map[string]string) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
