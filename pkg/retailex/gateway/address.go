package gateway

import (
	"strings"

	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/mapping"
)

// NotDefined is sent for address parts the hub does not know.
const NotDefined = "-"

// street returns the first line of the street attribute.
func street(addr hub.Entity) string {
	lines := streetLines(addr)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

// suburbLine returns the street lines after the first one.
func suburbLine(addr hub.Entity) string {
	lines := streetLines(addr)
	if len(lines) < 2 {
		return ""
	}
	return strings.Join(lines[1:], ", ")
}

func streetLines(addr hub.Entity) []string {
	raw := attrString(addr, "street")
	if raw == "" {
		return nil
	}
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// addressSuburb is the city, else the second street line, else NotDefined.
func addressSuburb(addr hub.Entity) string {
	if city := attrString(addr, "city"); city != "" {
		return city
	}
	if s := suburbLine(addr); s != "" {
		return s
	}
	return NotDefined
}

// addressLine2 is the second street line unless it is already sent as suburb.
func addressLine2(addr hub.Entity) any {
	line2 := suburbLine(addr)
	suburb := addressSuburb(addr)
	if line2 == "" || suburb == line2 || suburb == NotDefined {
		return nil
	}
	return line2
}

// addressState is the region, else the city, else NotDefined.
func addressState(addr hub.Entity) string {
	if region := attrString(addr, "region"); region != "" {
		return region
	}
	if city := attrString(addr, "city"); city != "" {
		return city
	}
	return NotDefined
}

// addressRegistry exposes the address helpers to field maps.
func addressRegistry() *mapping.Registry {
	return mapping.NewRegistry().
		Entity("address", func(e hub.Entity) (any, error) { return street(e), nil }).
		Entity("address2", func(e hub.Entity) (any, error) { return addressLine2(e), nil }).
		Entity("suburb", func(e hub.Entity) (any, error) { return addressSuburb(e), nil }).
		Entity("state", func(e hub.Entity) (any, error) { return addressState(e), nil })
}

// addressMap maps an address entity to the Bill* or Del* block.
func addressMap(prefix string) mapping.FieldMap {
	return mapping.FieldMap{
		mapping.E(prefix+"FirstName", mapping.Attr("first_name")),
		mapping.E(prefix+"LastName", mapping.Attr("last_name")),
		mapping.E(prefix+"Company", mapping.Attr("company")),
		mapping.E(prefix+"Phone", mapping.Attr("telephone")),
		mapping.E(prefix+"Address", mapping.OnEntity("address")),
		mapping.E(prefix+"Address2", mapping.OnEntity("address2")),
		mapping.E(prefix+"Suburb", mapping.OnEntity("suburb")),
		mapping.E(prefix+"State", mapping.OnEntity("state")),
		mapping.E(prefix+"PostCode", mapping.Attr("postcode")),
		mapping.E(prefix+"Country", mapping.Attr("country_code")),
	}
}

// resolveAddress returns the referenced address, falling back to the other one.
func resolveAddress(e hub.Entity, code, fallback string) hub.Entity {
	if addr, ok := e.Attribute(code).(hub.Entity); ok && addr != nil {
		return addr
	}
	if addr, ok := e.Attribute(fallback).(hub.Entity); ok && addr != nil {
		return addr
	}
	return nil
}

func attrString(e hub.Entity, code string) string {
	if e == nil {
		return ""
	}
	switch v := e.Attribute(code).(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		s, _ := formatScalar(v)
		return s
	}
}
