package gateway

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/mapping"
	"github.com/natserract/retailex/pkg/retailex/refdata"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"go.uber.org/zap"
)

const (
	OpProductsBulk        = "ProductsGetBulkDetailsByChannel"
	OpProductDetails      = "ProductGetDetailsStockPricingByChannel"
	OpProductCreateUpdate = "ProductCreateUpdate"
	OpProductLookup       = "ProductGetDetailsByCode"
)

const (
	productTypeSimple       = "simple"
	productTypeConfigurable = "configurable"
	noConfigurableSKU       = "<none>"
)

var productAttributeMap = mapping.FieldMap{
	mapping.E("name", mapping.Attr("Description")),
	mapping.E("size", mapping.Call("SizeId", "size")),
	mapping.E("color", mapping.Call("ColourId", "colour")),
	mapping.E("price", mapping.Call("MasterPOSPrice", "decimal")),
	mapping.E("special_price", mapping.Call("DiscountedPrice", "decimal")),
	mapping.E("taxable", mapping.Call("Taxable", "flag")),
}

var productOptionalMap = mapping.FieldMap{
	mapping.E("msrp", mapping.Call("RRP", "decimal")),
	mapping.E("configurable_sku", mapping.Attr("configurable_sku")),
	mapping.E("visible", mapping.Attr("visible")),
	mapping.E("type", mapping.Attr("type")),
}

var stockitemAttributeMap = mapping.FieldMap{
	mapping.E("qty_soh", mapping.Call("StockAvailable", "decimal")),
}

var productOutboundMap = mapping.FieldMap{
	mapping.E("ProductId", mapping.OnEntity("backendId")),
	mapping.E("Code", mapping.Attr("configurable_sku")),
	mapping.E("Description", mapping.Attr("name")),
	mapping.E("SizeId", mapping.Call("size", "sizeId")),
	mapping.E("ColourId", mapping.Call("color", "colourId")),
	mapping.E("MasterPOSPrice", mapping.Call("price", "decimal")),
	mapping.E("DiscountedPrice", mapping.Call("special_price", "decimal")),
	mapping.E("RRP", mapping.Call("msrp", "decimal")),
	mapping.E("Taxable", mapping.Call("taxable", "flag")),
	mapping.E("ChannelId", mapping.NoArgs("channelId")),
}

// ProductGateway pulls products and stock from the backend and pushes hub
// product changes back.
type ProductGateway struct {
	base
	refdata *refdata.Tables
}

var _ Gateway = (*ProductGateway)(nil)

func NewProductGateway(d Deps) *ProductGateway {
	tables := d.RefData
	if tables == nil {
		tables = refdata.Default()
	}
	reg := mapping.NewRegistry().
		Value("size", func(v any) (any, error) { return optionalLookup(v, tables.Size) }).
		Value("colour", func(v any) (any, error) { return optionalLookup(v, tables.Colour) }).
		Value("sizeId", func(v any) (any, error) { return optionalReverse(v, tables.SizeID) }).
		Value("colourId", func(v any) (any, error) { return optionalReverse(v, tables.ColourID) }).
		Entity("backendId", func(e hub.Entity) (any, error) {
			if id, ok := ProductIDFromSKU(e.UniqueID()); ok {
				return id, nil
			}
			return nil, nil
		})

	return &ProductGateway{base: newBase(hub.TypeProduct, d, reg), refdata: tables}
}

func optionalLookup(v any, fn func(any) (string, error)) (any, error) {
	if s, _ := formatScalar(v); s == "" || s == "0" {
		return nil, nil
	}
	return fn(v)
}

func optionalReverse(v any, fn func(string) (int, error)) (any, error) {
	s, _ := formatScalar(v)
	if s == "" {
		return nil, nil
	}
	return fn(s)
}

// sanitise replaces line breaks, which the hub cannot store in product
// attributes, with "; ".
func sanitise(r productRow) productRow {
	out := r.clone()
	for k, v := range out {
		if s, ok := v.(string); ok {
			s = strings.ReplaceAll(s, "\r\n", "; ")
			s = strings.NewReplacer("\r", "; ", "\n", "; ").Replace(s)
			out[k] = s
		}
	}
	return out
}

// mapProduct maps a synthetic product row to hub product attributes.
func (g *ProductGateway) mapProduct(p syntheticProduct) map[string]any {
	clean := sanitise(p.Row)
	rec := hub.NewRecord("retailex_product", p.SKU, 0, clean)

	fm := productAttributeMap
	if clean.str("type") == productTypeConfigurable {
		fm = fm.Without("size", "color")
	}
	required, _ := g.engine.Resolve(fm, rec, nil)
	optional, _ := g.engine.Resolve(productOptionalMap, rec, nil, mapping.Optional())

	data := required.Map()
	maps.Copy(data, optional.Map())
	return data
}

func (g *ProductGateway) mapStock(p syntheticProduct) map[string]any {
	rec := hub.NewRecord("retailex_product", p.SKU, 0, p.Row)
	fields, _ := g.engine.Resolve(stockitemAttributeMap, rec, nil)
	return fields.Map()
}

// Retrieve runs the two-phase product pull: the bulk list of changed
// products, then stock and pricing per product.
func (g *ProductGateway) Retrieve(ctx context.Context) (int, error) {
	since, next, err := g.retrieveWindow(ctx)
	if err != nil {
		return 0, err
	}
	g.logger.Info("Retrieving products", zap.Time("since", since))

	body, err := g.soap.Call(ctx, OpProductsBulk, soap.Fields{
		soap.F("LastUpdated", since),
		soap.F("ChannelId", g.channelID()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve products: %w", err)
	}
	channel, err := g.channelNumber()
	if err != nil {
		return 0, err
	}

	set := newProductSet()
	for _, summary := range productRows(body) {
		details, err := g.soap.Call(ctx, OpProductDetails, soap.Fields{
			soap.F("ProductId", summary.str("ProductId")),
			soap.F("ChannelId", channel),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to retrieve product %s: %w", summary.str("ProductId"), err)
		}
		products := expandMatrix(summary, productRows(details))
		set.add(products, isMatrix(summary))
		g.logger.Debug("Expanded product",
			zap.String("product_id", summary.str("ProductId")),
			zap.Bool("matrix", isMatrix(summary)),
			zap.Int("products", len(products)))
	}

	count := 0
	for _, p := range set.list() {
		product, err := g.upsertProduct(ctx, p.ProductID, p.SKU, g.mapProduct(p))
		if err != nil {
			return count, fmt.Errorf("product %s: %w", p.SKU, err)
		}
		if err := g.upsertStock(ctx, p.ProductID, p.SKU, product, g.mapStock(p)); err != nil {
			return count, fmt.Errorf("stockitem %s: %w", p.SKU, err)
		}
		count++
	}

	g.logger.Info("Retrieved products", zap.Int("count", count))
	return count, g.commitRetrieve(ctx, next)
}

// productRows reads the children of the first Products element. Rows are
// unique by ProductId; a repeated id replaces the earlier row in place.
func productRows(body *xmlquery.Node) []productRow {
	if body == nil {
		return nil
	}
	products := xmlquery.FindOne(body, "//Products")
	if products == nil {
		return nil
	}
	var out []productRow
	index := make(map[string]int)
	for c := products.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		r := productRow(toAttributes(row(c)))
		id := r.str("ProductId")
		if i, ok := index[id]; ok {
			out[i] = r
			continue
		}
		index[id] = len(out)
		out = append(out, r)
	}
	return out
}

// upsertProduct finds the hub product by SKU, else by backend id, else
// creates it, and makes sure the link points at localID.
func (g *ProductGateway) upsertProduct(ctx context.Context, localID, sku string, data map[string]any) (hub.Entity, error) {
	product, err := g.entities.Load(ctx, g.nodeID, hub.TypeProduct, 0, sku)
	if err != nil {
		return nil, err
	}
	if product == nil {
		product, err = g.entities.LoadByLocalID(ctx, g.nodeID, hub.TypeProduct, 0, localID)
		if err != nil {
			return nil, err
		}
		if product != nil && product.UniqueID() != sku {
			g.logger.Warn("Product linked to backend id has a different sku",
				zap.String("local_id", localID),
				zap.String("sku", sku),
				zap.String("linked_sku", product.UniqueID()))
			if err := g.entities.Unlink(ctx, g.nodeID, product); err != nil {
				return nil, err
			}
			product = nil
		}
	}

	needsUpdate := true
	if product == nil {
		create := map[string]any{
			"configurable_sku": noConfigurableSKU,
			"enabled":          1,
			"type":             productTypeSimple,
		}
		maps.Copy(create, data)
		if product, err = g.entities.Create(ctx, g.nodeID, hub.TypeProduct, 0, sku, create, nil); err != nil {
			return nil, fmt.Errorf("failed to create product: %w", err)
		}
		g.logger.Info("Created product", zap.String("sku", sku), zap.String("local_id", localID))
		needsUpdate = false
	}

	if err := g.relink(ctx, product, localID); err != nil {
		return nil, err
	}

	if needsUpdate {
		update := maps.Clone(data)
		// the hub owns these once the product exists
		delete(update, "enabled")
		delete(update, "visible")
		if err := g.entities.Update(ctx, g.nodeID, product, update, false); err != nil {
			return nil, fmt.Errorf("failed to update product: %w", err)
		}
	}
	return product, nil
}

// upsertStock finds the stock item by backend id, else by SKU, else creates
// it under product, then writes data and corrects the link.
func (g *ProductGateway) upsertStock(ctx context.Context, localID, sku string, product hub.Entity, data map[string]any) error {
	stock, err := g.entities.LoadByLocalID(ctx, g.nodeID, hub.TypeStockItem, 0, localID)
	if err != nil {
		return err
	}
	if stock != nil && stock.UniqueID() != sku {
		if err := g.entities.Unlink(ctx, g.nodeID, stock); err != nil {
			return err
		}
		stock = nil
	}
	if stock == nil {
		if stock, err = g.entities.Load(ctx, g.nodeID, hub.TypeStockItem, 0, sku); err != nil {
			return err
		}
	}
	if stock == nil {
		if stock, err = g.entities.Create(ctx, g.nodeID, hub.TypeStockItem, 0, sku, data, product); err != nil {
			return fmt.Errorf("failed to create stockitem: %w", err)
		}
	} else if err := g.entities.Update(ctx, g.nodeID, stock, data, false); err != nil {
		return fmt.Errorf("failed to update stockitem: %w", err)
	}
	return g.relink(ctx, stock, localID)
}

// WriteUpdates pushes a hub product to the backend with ProductCreateUpdate.
func (g *ProductGateway) WriteUpdates(ctx context.Context, e hub.Entity, changed []string, updateType hub.UpdateType) error {
	r := g.write(ctx, e, updateType)
	g.logWrite(r)
	if r.Err != nil {
		return &GatewayError{EntityType: hub.TypeProduct, UniqueID: e.UniqueID(), Op: r.Operation, Err: r.Err}
	}
	return nil
}

// Payload builds the Product element for e.
func (g *ProductGateway) Payload(e hub.Entity, localID string) soap.Fields {
	fm := productOutboundMap
	if localID != "" {
		fm = fm.Without("ProductId")
	}
	if attrString(e, "type") == productTypeConfigurable {
		fm = fm.Without("SizeId", "ColourId")
	}
	product, _ := g.engine.Resolve(fm, e, nil, mapping.Optional())
	if code, _ := product.Get("Code"); code == noConfigurableSKU {
		product = product.Without("Code")
	}
	if localID != "" {
		product = append(soap.Fields{soap.F("ProductId", localID)}, product...)
	}
	return soap.Fields{
		soap.F("ProductXML", soap.Fields{
			soap.F("Products", soap.Fields{
				soap.F("Product", product),
			}),
		}),
	}
}

func (g *ProductGateway) write(ctx context.Context, e hub.Entity, updateType hub.UpdateType) writeResult {
	r := writeResult{Operation: OpProductCreateUpdate, Entity: e, Update: updateType.String()}
	if e.Type() != hub.TypeProduct {
		r.Err = fmt.Errorf("%w: %s", ErrWrongEntityType, e.Type())
		return r
	}
	if updateType == hub.UpdateTypeDelete {
		r.Skipped = "product deletion is not supported"
		return r
	}

	localID, err := g.entities.LocalID(ctx, g.nodeID, e)
	if err != nil {
		r.Err = err
		return r
	}
	r.LocalID = localID

	body, err := g.soap.Call(ctx, OpProductCreateUpdate, g.Payload(e, localID))
	if err != nil {
		if localID == "" && isDuplicateKey(err) {
			r.LocalID, r.Err = g.reconcile(ctx, e, err, g.lookup(e.UniqueID()))
			r.Linked = r.Err == nil
			return r
		}
		r.Err = err
		return r
	}

	_, id, err := result(body, "Product", "ProductId")
	if err != nil {
		r.Err = err
		return r
	}
	if localID != "" {
		return r
	}
	if id == "" {
		// a POS- sku already names its backend id
		id, _ = ProductIDFromSKU(e.UniqueID())
	}
	r.LocalID, r.Err = id, g.linkCreated(ctx, e, id)
	r.Linked = r.Err == nil
	return r
}

func (g *ProductGateway) lookup(sku string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		code := sku
		if id, ok := ProductIDFromSKU(sku); ok {
			code = id
		}
		body, err := g.soap.Call(ctx, OpProductLookup, soap.Fields{
			soap.F("Code", code),
			soap.F("ChannelId", g.channelID()),
		})
		if err != nil {
			return "", err
		}
		for _, p := range productRows(body) {
			if id := p.str("ProductId"); id != "" {
				return id, nil
			}
		}
		return "", nil
	}
}

func (g *ProductGateway) WriteAction(ctx context.Context, action hub.Action) error {
	return fmt.Errorf("%w: %s on product", ErrUnsupportedAction, action.Type)
}
