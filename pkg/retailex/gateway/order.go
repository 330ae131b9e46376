package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/mapping"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"go.uber.org/zap"
)

const (
	OpOrderCreate       = "OrderCreateByChannel"
	OpOrdersByChannel   = "OrdersGetByChannel"
	OpOrderLookup       = "OrderGetDetails"
	OpOrderCancel       = "OrderCancel"
	OpOrderAddPayment   = "OrderAddPayment"
	OpOrderAddNote      = "OrderAddNote"
	OpOrderFulfil       = "OrderFulfil"
	OpOrderStatusUpdate = "OrderStatusUpdate"
)

// Backend order statuses.
const (
	StatusProcessed = "Processed"
	StatusOnHold    = "On Hold"
	StatusCancelled = "Cancelled"
)

// Hub order statuses.
const (
	HubStatusPending    = "pending"
	HubStatusProcessing = "processing"
	HubStatusComplete   = "complete"
	HubStatusCanceled   = "canceled"
	HubStatusHolded     = "holded"
	HubStatusClosed     = "closed"
)

var backendStatuses = map[string]string{
	"quote":               HubStatusPending,
	"processed":           HubStatusProcessing,
	"partially fulfilled": HubStatusProcessing,
	"on hold":             HubStatusHolded,
	"fulfilled":           HubStatusComplete,
	"complete":            HubStatusComplete,
	"completed":           HubStatusComplete,
	"cancelled":           HubStatusCanceled,
	"canceled":            HubStatusCanceled,
}

// HubStatus maps a backend order status to the hub's.
func HubStatus(backend string) (string, bool) {
	s, ok := backendStatuses[strings.ToLower(strings.TrimSpace(backend))]
	return s, ok
}

func isCanceled(status string) bool {
	switch strings.ToLower(status) {
	case HubStatusCanceled, "cancelled":
		return true
	}
	return false
}

var orderMap = mapping.FieldMap{
	mapping.E("ExternalOrderId", mapping.OnEntity("uniqueId")),
	mapping.E("ChannelId", mapping.NoArgs("channelId")),
	mapping.E("DateCreated", mapping.Call("placed_at", "date")),
	mapping.E("OrderTotal", mapping.Call("grand_total", "decimal")),
	mapping.E("FreightTotal", mapping.Call("shipping_total", "decimal")),
	mapping.E("OrderStatus", mapping.Lit(StatusProcessed)),
	mapping.E("BillEmail", mapping.Attr("customer_email")),
}

var orderItemMap = mapping.FieldMap{
	mapping.E("ExternalOrderItemId", mapping.OnEntity("uniqueId")),
	mapping.E("ProductId", mapping.Call("sku", "productIdFromSku")),
	mapping.E("QtyOrdered", mapping.Attr("quantity")),
	mapping.E("QtyFulfilled", mapping.Lit(0)),
	mapping.E("UnitPrice", mapping.Call("price", "decimal")),
	mapping.E("TaxRateApplied", mapping.Call("tax_rate", "decimal")),
	mapping.E("DeliveryMethod", mapping.Lit("home")),
}

var orderPaymentMap = mapping.FieldMap{
	mapping.E("MethodId", mapping.Attr("method_id")),
	mapping.E("Amount", mapping.Call("amount", "decimal")),
	mapping.E("DateCreated", mapping.Call("date", "date")),
	mapping.E("Comments", mapping.Attr("comment")),
	mapping.E("ExternalOrderId", mapping.OnParent("uniqueId")),
}

// OrderGateway pushes hub orders to the backend, applies order actions and
// pulls back status changes.
type OrderGateway struct {
	base
}

var _ Gateway = (*OrderGateway)(nil)

func NewOrderGateway(d Deps) *OrderGateway {
	return &OrderGateway{base: newBase(hub.TypeOrder, d, addressRegistry())}
}

// Payload builds the OrderXML document for order. customerID is the
// backend id of the order's customer, if known.
func (g *OrderGateway) Payload(order hub.Entity, customerID string) soap.Fields {
	header, _ := g.engine.Resolve(orderMap, order, nil)
	if customerID != "" {
		header = header.Set("CustomerId", customerID)
	}
	if billing := resolveAddress(order, "billing_address", "shipping_address"); billing != nil {
		addr, _ := g.engine.Resolve(addressMap("Bill"), billing, order, mapping.Optional())
		header = append(header, addr...)
	}
	if shipping := resolveAddress(order, "shipping_address", "billing_address"); shipping != nil {
		addr, _ := g.engine.Resolve(addressMap("Del"), shipping, order, mapping.Optional())
		header = append(header, addr...)
	}

	doc := soap.Fields{soap.F("Order", header)}

	var items soap.Fields
	for i, item := range entities(order.Attribute("items")) {
		fields, _ := g.engine.Resolve(orderItemMap, item, order)
		items = append(items, soap.F(fmt.Sprintf("OrderItem<%d>", i+1), fields))
	}
	if len(items) > 0 {
		doc = append(doc, soap.F("OrderItems", items))
	}

	var payments soap.Fields
	for i, payment := range entities(order.Attribute("payments")) {
		fields, _ := g.engine.Resolve(orderPaymentMap, payment, order)
		payments = append(payments, soap.F(fmt.Sprintf("OrderPayment<%d>", i+1), fields))
	}
	if len(payments) > 0 {
		doc = append(doc, soap.F("OrderPayments", payments))
	}

	return soap.Fields{soap.F("OrderXML", soap.Fields{soap.F("Orders", doc)})}
}

func entities(v any) []hub.Entity {
	switch t := v.(type) {
	case []hub.Entity:
		return t
	case []*hub.Record:
		out := make([]hub.Entity, 0, len(t))
		for _, r := range t {
			out = append(out, r)
		}
		return out
	}
	return nil
}

// WriteUpdates creates the order on the backend. Orders are written once:
// updates to a linked order are skipped and a create for a linked order is
// an error.
func (g *OrderGateway) WriteUpdates(ctx context.Context, e hub.Entity, changed []string, updateType hub.UpdateType) error {
	r := g.write(ctx, e, updateType)
	g.logWrite(r)
	if r.Err != nil {
		return &GatewayError{EntityType: hub.TypeOrder, UniqueID: e.UniqueID(), Op: r.Operation, Err: r.Err}
	}
	return nil
}

func (g *OrderGateway) write(ctx context.Context, e hub.Entity, updateType hub.UpdateType) writeResult {
	r := writeResult{Operation: OpOrderCreate, Entity: e, Update: updateType.String()}
	if e.Type() != hub.TypeOrder {
		r.Err = fmt.Errorf("%w: %s", ErrWrongEntityType, e.Type())
		return r
	}
	if updateType == hub.UpdateTypeDelete {
		r.Skipped = "order deletion is not supported"
		return r
	}

	localID, err := g.entities.LocalID(ctx, g.nodeID, e)
	if err != nil {
		r.Err = err
		return r
	}
	r.LocalID = localID
	if localID != "" {
		if updateType == hub.UpdateTypeCreate {
			r.Err = fmt.Errorf("%w: order is linked to %s", ErrAlreadyLinked, localID)
			return r
		}
		r.Skipped = "order already exists on the backend"
		return r
	}

	var customerID string
	if customer, ok := e.Attribute("customer").(hub.Entity); ok && customer != nil {
		if customerID, err = g.entities.LocalID(ctx, g.nodeID, customer); err != nil {
			r.Err = err
			return r
		}
	}

	body, err := g.soap.Call(ctx, OpOrderCreate, g.Payload(e, customerID))
	if err != nil {
		if isDuplicateKey(err) {
			r.LocalID, r.Err = g.reconcile(ctx, e, err, g.lookup(e.UniqueID()))
			r.Linked = r.Err == nil
			return r
		}
		r.Err = err
		return r
	}

	_, id, err := result(body, "Order", "OrderId")
	if err != nil {
		r.Err = err
		return r
	}
	r.LocalID, r.Err = id, g.linkCreated(ctx, e, id)
	r.Linked = r.Err == nil
	return r
}

func (g *OrderGateway) lookup(externalID string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		body, err := g.soap.Call(ctx, OpOrderLookup, soap.Fields{
			soap.F("ExternalOrderId", externalID),
			soap.F("ChannelId", g.channelID()),
		})
		if err != nil {
			return "", err
		}
		if o, ok := matchRow(rows(body, "//Order"), "ExternalOrderId", externalID, func(a, b string) bool { return a == b }); ok {
			return o["OrderId"], nil
		}
		return "", nil
	}
}

// Retrieve reads orders changed on the backend and copies their status onto
// the linked hub orders. Orders unknown to the hub are skipped.
func (g *OrderGateway) Retrieve(ctx context.Context) (int, error) {
	since, next, err := g.retrieveWindow(ctx)
	if err != nil {
		return 0, err
	}
	body, err := g.soap.Call(ctx, OpOrdersByChannel, soap.Fields{
		soap.F("LastUpdated", since),
		soap.F("ChannelId", g.channelID()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve orders: %w", err)
	}

	count := 0
	for _, o := range rows(body, "//Order") {
		updated, err := g.applyStatus(ctx, o)
		if err != nil {
			return count, err
		}
		if updated {
			count++
		}
	}

	g.logger.Info("Retrieved orders", zap.Int("updated", count), zap.Time("since", since))
	return count, g.commitRetrieve(ctx, next)
}

func (g *OrderGateway) applyStatus(ctx context.Context, o map[string]string) (bool, error) {
	localID := o["OrderId"]
	status, ok := HubStatus(o["OrderStatus"])
	if localID == "" || !ok {
		g.logger.Debug("Skipping order",
			zap.String("local_id", localID),
			zap.String("status", o["OrderStatus"]))
		return false, nil
	}

	order, err := g.entities.LoadByLocalID(ctx, g.nodeID, hub.TypeOrder, 0, localID)
	if err != nil {
		return false, err
	}
	if order == nil && o["ExternalOrderId"] != "" {
		if order, err = g.entities.Load(ctx, g.nodeID, hub.TypeOrder, 0, o["ExternalOrderId"]); err != nil {
			return false, err
		}
		if order != nil {
			if err := g.relink(ctx, order, localID); err != nil {
				return false, err
			}
		}
	}
	if order == nil {
		g.logger.Debug("Order not known to the hub", zap.String("local_id", localID))
		return false, nil
	}

	if attrString(order, "status") == status {
		return false, nil
	}
	if err := g.entities.Update(ctx, g.nodeID, order, map[string]any{"status": status}, false); err != nil {
		return false, fmt.Errorf("failed to update order %s: %w", order.UniqueID(), err)
	}
	return true, nil
}
