package gateway

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SKUPrefix marks SKUs generated from backend product ids.
const SKUPrefix = "POS-"

// SKU returns the hub SKU of a backend product id.
func SKU(productID string) string {
	return SKUPrefix + strings.TrimSpace(productID)
}

// ProductIDFromSKU is the inverse of SKU.
func ProductIDFromSKU(sku string) (string, bool) {
	id, ok := strings.CutPrefix(sku, SKUPrefix)
	return id, ok && id != ""
}

// productRow is one product as read from the backend, plus the synthetic
// fields added during matrix expansion.
type productRow map[string]any

func (r productRow) str(key string) string {
	s, _ := formatScalar(r[key])
	return s
}

func (r productRow) clone() productRow {
	out := make(productRow, len(r)+4)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// isMatrix reports whether a bulk summary row is a matrix product, i.e. a
// parent with size/colour variants.
func isMatrix(summary productRow) bool {
	v, ok := summary["MatrixProduct"]
	if !ok {
		return false
	}
	switch strings.ToLower(fmtAny(v)) {
	case "0", "false":
		return false
	}
	return true
}

func fmtAny(v any) string {
	s, _ := formatScalar(v)
	return s
}

// syntheticProduct is a hub-ready product keyed by SKU.
type syntheticProduct struct {
	SKU       string
	ProductID string
	Row       productRow
}

// expandMatrix turns one bulk summary row and its detail rows into the
// products written to the hub. Matrix products become a configurable parent
// keyed by the matrix code and one invisible child per variant. The parent's
// stock is the sum of its children's. Other products merge the summary with
// their matching detail row.
func expandMatrix(summary productRow, details []productRow) []syntheticProduct {
	if isMatrix(summary) {
		parentSKU := SKU(summary.str("Code"))
		if summary.str("Code") == "" {
			parentSKU = SKU(summary.str("ProductId"))
		}

		var out []syntheticProduct
		stock := decimal.Zero
		for _, d := range details {
			child := d.clone()
			child["configurable_sku"] = parentSKU
			child["visible"] = 0
			qty, _ := toDecimal(child["StockAvailable"])
			stock = stock.Add(qty)
			out = append(out, syntheticProduct{SKU: SKU(child.str("ProductId")), ProductID: child.str("ProductId"), Row: child})
		}

		parent := summary.clone()
		parent["StockAvailable"] = stock
		parent["type"] = "configurable"
		parent["visible"] = 1
		out = append(out, syntheticProduct{SKU: parentSKU, ProductID: summary.str("ProductId"), Row: parent})
		return out
	}

	merged := summary.clone()
	for _, d := range details {
		if d.str("ProductId") == summary.str("ProductId") {
			for k, v := range d {
				merged[k] = v
			}
			break
		}
	}
	merged["visible"] = 1
	return []syntheticProduct{{SKU: SKU(summary.str("ProductId")), ProductID: summary.str("ProductId"), Row: merged}}
}

// productSet keeps synthetic products in first-seen order. Matrix children
// replace earlier entries; plain products never do.
type productSet struct {
	order []string
	items map[string]syntheticProduct
}

func newProductSet() *productSet {
	return &productSet{items: make(map[string]syntheticProduct)}
}

func (s *productSet) add(products []syntheticProduct, replace bool) {
	for _, p := range products {
		if _, ok := s.items[p.SKU]; ok {
			if !replace {
				continue
			}
		} else {
			s.order = append(s.order, p.SKU)
		}
		s.items[p.SKU] = p
	}
}

func (s *productSet) list() []syntheticProduct {
	out := make([]syntheticProduct, 0, len(s.order))
	for _, sku := range s.order {
		out = append(out, s.items[sku])
	}
	return out
}
