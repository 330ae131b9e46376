package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Order action types.
const (
	ActionCancel     = "cancel"
	ActionAddPayment = "addPayment"
	ActionComment    = "comment"
	ActionShip       = "ship"
	ActionCreditMemo = "creditmemo"
	ActionHold       = "hold"
	ActionUnhold     = "unhold"
)

type actionResult struct {
	Action    string
	Operation string
	LocalID   string
	Err       error
}

// WriteAction applies an order action on the backend. Every action needs the
// order to be linked.
func (g *OrderGateway) WriteAction(ctx context.Context, action hub.Action) error {
	r := g.act(ctx, action)

	fields := []zap.Field{
		zap.String("action", r.Action),
		zap.String("operation", r.Operation),
		zap.String("local_id", r.LocalID),
		zap.String("action_id", action.ID.String()),
	}
	if action.Entity != nil {
		fields = append(fields, zap.String("unique_id", action.Entity.UniqueID()))
	}
	if r.Err != nil {
		g.logger.Error("Order action failed", append(fields, zap.Error(r.Err))...)
		uniqueID := ""
		if action.Entity != nil {
			uniqueID = action.Entity.UniqueID()
		}
		return &GatewayError{EntityType: hub.TypeOrder, UniqueID: uniqueID, Op: action.Type, Err: r.Err}
	}
	g.logger.Info("Order action completed", fields...)
	return nil
}

func (g *OrderGateway) act(ctx context.Context, action hub.Action) actionResult {
	r := actionResult{Action: action.Type}
	order := action.Entity
	if order == nil || order.Type() != hub.TypeOrder {
		r.Err = fmt.Errorf("%w: action %s needs an order", ErrWrongEntityType, action.Type)
		return r
	}

	var op func(context.Context, string, hub.Entity, map[string]any) (string, error)
	switch action.Type {
	case ActionCancel:
		op = g.cancel
	case ActionAddPayment:
		op = g.addPayment
	case ActionComment:
		op = g.comment
	case ActionShip:
		op = g.ship
	case ActionCreditMemo:
		op = g.creditMemo
	case ActionHold:
		op = g.hold
	case ActionUnhold:
		op = g.unhold
	default:
		r.Err = fmt.Errorf("%w: %s on order", ErrUnsupportedAction, action.Type)
		return r
	}

	localID, err := g.entities.LocalID(ctx, g.nodeID, order)
	if err != nil {
		r.Err = err
		return r
	}
	r.LocalID = localID
	if localID == "" {
		r.Err = preconditionf("order %s is not linked", order.UniqueID())
		return r
	}

	r.Operation, r.Err = op(ctx, localID, order, action.Data)
	return r
}

func (g *OrderGateway) cancel(ctx context.Context, localID string, order hub.Entity, _ map[string]any) (string, error) {
	status := attrString(order, "status")
	if !isCanceled(status) {
		return OpOrderCancel, preconditionf("order status is %q, not canceled", status)
	}
	body, err := g.soap.Call(ctx, OpOrderCancel, soap.Fields{soap.F("OrderId", localID)})
	if err != nil {
		return OpOrderCancel, err
	}
	return OpOrderCancel, checkResult(body)
}

func (g *OrderGateway) addPayment(ctx context.Context, localID string, order hub.Entity, data map[string]any) (string, error) {
	amount, err := positiveAmount(data)
	if err != nil {
		return OpOrderAddPayment, err
	}
	return OpOrderAddPayment, g.sendPayment(ctx, localID, order, data, amount)
}

// creditMemo records a refund as a negative payment.
func (g *OrderGateway) creditMemo(ctx context.Context, localID string, order hub.Entity, data map[string]any) (string, error) {
	amount, err := positiveAmount(data)
	if err != nil {
		return OpOrderAddPayment, err
	}
	return OpOrderAddPayment, g.sendPayment(ctx, localID, order, data, amount.Neg())
}

func (g *OrderGateway) sendPayment(ctx context.Context, localID string, order hub.Entity, data map[string]any, amount decimal.Decimal) error {
	attrs := make(map[string]any, len(data)+1)
	for k, v := range data {
		attrs[k] = v
	}
	attrs["amount"] = amount
	if _, ok := attrs["date"]; !ok {
		attrs["date"] = g.now()
	}
	payment := hub.NewRecord("payment", order.UniqueID(), order.StoreID(), attrs).WithParent(order)

	fields, _ := g.engine.Resolve(orderPaymentMap.Without("ExternalOrderId"), payment, order)
	fields = append(soap.Fields{soap.F("OrderId", localID)}, fields...)

	body, err := g.soap.Call(ctx, OpOrderAddPayment, soap.Fields{
		soap.F("PaymentXML", soap.Fields{
			soap.F("OrderPayments", soap.Fields{
				soap.F("OrderPayment", fields),
			}),
		}),
	})
	if err != nil {
		return err
	}
	return checkResult(body)
}

func (g *OrderGateway) comment(ctx context.Context, localID string, order hub.Entity, data map[string]any) (string, error) {
	text, _ := formatScalar(data["comment"])
	if text == "" {
		return OpOrderAddNote, preconditionf("comment is empty")
	}
	body, err := g.soap.Call(ctx, OpOrderAddNote, soap.Fields{
		soap.F("OrderId", localID),
		soap.F("NoteXML", soap.Fields{
			soap.F("Note", soap.Fields{
				soap.F("Body", text),
				soap.F("IsPrivate", flag(data["private"])),
			}),
		}),
	})
	if err != nil {
		return OpOrderAddNote, err
	}
	return OpOrderAddNote, checkResult(body)
}

func (g *OrderGateway) ship(ctx context.Context, localID string, order hub.Entity, data map[string]any) (string, error) {
	if status := attrString(order, "status"); isCanceled(status) {
		return OpOrderFulfil, preconditionf("order is %s", status)
	}

	fulfilment := soap.Fields{
		soap.F("OrderId", localID),
		soap.F("DateFulfilled", g.now()),
		soap.F("Carrier", data["carrier"]),
		soap.F("TrackingNumber", data["tracking_number"]),
	}
	var items soap.Fields
	for i, item := range entities(order.Attribute("items")) {
		productID, ok := ProductIDFromSKU(attrString(item, "sku"))
		if !ok {
			continue
		}
		items = append(items, soap.F(fmt.Sprintf("OrderItem<%d>", i+1), soap.Fields{
			soap.F("ProductId", productID),
			soap.F("QtyFulfilled", item.Attribute("quantity")),
		}))
	}
	if len(items) > 0 {
		fulfilment = append(fulfilment, soap.F("OrderItems", items))
	}

	body, err := g.soap.Call(ctx, OpOrderFulfil, soap.Fields{
		soap.F("FulfilXML", soap.Fields{
			soap.F("OrderFulfilments", soap.Fields{
				soap.F("OrderFulfilment", fulfilment),
			}),
		}),
	})
	if err != nil {
		return OpOrderFulfil, err
	}
	return OpOrderFulfil, checkResult(body)
}

func (g *OrderGateway) hold(ctx context.Context, localID string, order hub.Entity, _ map[string]any) (string, error) {
	switch status := attrString(order, "status"); {
	case isCanceled(status), status == HubStatusComplete, status == HubStatusClosed:
		return OpOrderStatusUpdate, preconditionf("order is %s", status)
	}
	return OpOrderStatusUpdate, g.setStatus(ctx, localID, StatusOnHold)
}

func (g *OrderGateway) unhold(ctx context.Context, localID string, order hub.Entity, _ map[string]any) (string, error) {
	if status := attrString(order, "status"); status != HubStatusHolded {
		return OpOrderStatusUpdate, preconditionf("order is %q, not on hold", status)
	}
	return OpOrderStatusUpdate, g.setStatus(ctx, localID, StatusProcessed)
}

func (g *OrderGateway) setStatus(ctx context.Context, localID, status string) error {
	body, err := g.soap.Call(ctx, OpOrderStatusUpdate, soap.Fields{
		soap.F("OrderId", localID),
		soap.F("OrderStatus", status),
	})
	if err != nil {
		return err
	}
	return checkResult(body)
}

func positiveAmount(data map[string]any) (decimal.Decimal, error) {
	amount, err := toDecimal(data["amount"])
	if err != nil {
		return decimal.Zero, preconditionf("invalid amount: %v", err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, preconditionf("amount must be positive, got %s", amount)
	}
	return amount, nil
}

// checkResult fails on a Result element that reports anything but success.
// A body without one is accepted.
func checkResult(body *xmlquery.Node) error {
	if body == nil {
		return nil
	}
	n := xmlquery.FindOne(body, "//Result")
	if n == nil {
		return nil
	}
	res := strings.TrimSpace(n.InnerText())
	if res == "" || strings.EqualFold(res, "Success") || res == "1" || strings.EqualFold(res, "true") {
		return nil
	}
	return fmt.Errorf("backend reported %q", res)
}
