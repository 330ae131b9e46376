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
	OpCustomerCreateUpdate = "CustomerCreateUpdate"
	OpCustomerBulk         = "CustomerGetBulkDetails"
	OpCustomerLookup       = "CustomerGetDetails"
)

// MissingInformation fills mandatory delivery fields the hub cannot provide.
const MissingInformation = "> Information missing <"

var customerMap = mapping.FieldMap{
	mapping.E("BillEmail", mapping.OnEntity("uniqueId")),
	mapping.E("BillFirstName", mapping.OnEntity("billingFirstName")),
	mapping.E("BillLastName", mapping.OnEntity("billingLastName")),
}

var customerBillingMap = addressMap("Bill").Without("BillFirstName", "BillLastName")

var customerDeliveryMap = mapping.FieldMap{
	mapping.E("DelAddress", mapping.OnEntity("deliveryAddress")),
	mapping.E("DelSuburb", mapping.OnEntity("deliverySuburb")),
	mapping.E("DelPostCode", mapping.OnEntity("deliveryPostCode")),
	mapping.E("DelState", mapping.OnEntity("deliveryState")),
	mapping.E("ReceivesNews", mapping.Call("enable_newsletter", "newsletter")),
}

var customerInboundMap = mapping.FieldMap{
	mapping.E("email", mapping.Call("BillEmail", "lower")),
	mapping.E("first_name", mapping.Attr("BillFirstName")),
	mapping.E("last_name", mapping.Attr("BillLastName")),
	mapping.E("telephone", mapping.Attr("BillPhone")),
	mapping.E("enable_newsletter", mapping.Call("ReceivesNews", "flag")),
}

// CustomerGateway writes hub customers to the backend and reads back
// customers changed there.
type CustomerGateway struct {
	base
}

var _ Gateway = (*CustomerGateway)(nil)

func NewCustomerGateway(d Deps) *CustomerGateway {
	reg := addressRegistry().
		Entity("billingFirstName", func(e hub.Entity) (any, error) {
			return firstNonEmpty(attrString(resolveAddress(e, "billing_address", "shipping_address"), "first_name"), attrString(e, "first_name")), nil
		}).
		Entity("billingLastName", func(e hub.Entity) (any, error) {
			return firstNonEmpty(attrString(resolveAddress(e, "billing_address", "shipping_address"), "last_name"), attrString(e, "last_name")), nil
		}).
		Entity("deliveryAddress", func(e hub.Entity) (any, error) {
			addr, _ := deliveryLines(e)
			return firstNonEmpty(addr, MissingInformation), nil
		}).
		Entity("deliverySuburb", func(e hub.Entity) (any, error) {
			_, suburb := deliveryLines(e)
			return firstNonEmpty(suburb, attrString(shippingAddress(e), "city"), MissingInformation), nil
		}).
		Entity("deliveryPostCode", func(e hub.Entity) (any, error) {
			return firstNonEmpty(attrString(shippingAddress(e), "postcode"), MissingInformation), nil
		}).
		Entity("deliveryState", func(e hub.Entity) (any, error) {
			return firstNonEmpty(attrString(shippingAddress(e), "region"), MissingInformation), nil
		}).
		Value("newsletter", func(v any) (any, error) { return flag(v), nil })

	return &CustomerGateway{base: newBase(hub.TypeCustomer, d, reg)}
}

func shippingAddress(e hub.Entity) hub.Entity {
	return resolveAddress(e, "shipping_address", "billing_address")
}

// deliveryLines splits the shipping street: a single line is the address,
// otherwise the last line is the suburb.
func deliveryLines(e hub.Entity) (address, suburb string) {
	lines := streetLines(shippingAddress(e))
	switch len(lines) {
	case 0:
		return "", ""
	case 1:
		return lines[0], ""
	}
	return strings.Join(lines[:len(lines)-1], ", "), lines[len(lines)-1]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Payload builds the Customer element for e. localID is sent when the
// customer is already linked; a password is only sent on create.
func (g *CustomerGateway) Payload(e hub.Entity, localID string) soap.Fields {
	var customer soap.Fields
	if localID != "" {
		customer = append(customer, soap.F("CustomerId", localID))
	} else {
		customer = append(customer, soap.F("Password", randomPassword()))
	}

	identity, _ := g.engine.Resolve(customerMap, e, nil)
	customer = append(customer, identity...)
	if billing := resolveAddress(e, "billing_address", "shipping_address"); billing != nil {
		addr, _ := g.engine.Resolve(customerBillingMap, billing, e, mapping.Optional())
		customer = append(customer, addr...)
	}
	delivery, _ := g.engine.Resolve(customerDeliveryMap, e, nil)
	customer = append(customer, delivery...)

	return soap.Fields{
		soap.F("CustomerXML", soap.Fields{
			soap.F("Customers", soap.Fields{
				soap.F("Customer", customer),
			}),
		}),
	}
}

func (g *CustomerGateway) WriteUpdates(ctx context.Context, e hub.Entity, changed []string, updateType hub.UpdateType) error {
	r := g.write(ctx, e, updateType)
	g.logWrite(r)
	if r.Err != nil {
		return &GatewayError{EntityType: hub.TypeCustomer, UniqueID: e.UniqueID(), Op: r.Operation, Err: r.Err}
	}
	return nil
}

func (g *CustomerGateway) write(ctx context.Context, e hub.Entity, updateType hub.UpdateType) writeResult {
	r := writeResult{Operation: OpCustomerCreateUpdate, Entity: e, Update: updateType.String()}
	if e.Type() != hub.TypeCustomer {
		r.Err = fmt.Errorf("%w: %s", ErrWrongEntityType, e.Type())
		return r
	}
	if updateType == hub.UpdateTypeDelete {
		r.Skipped = "customer deletion is not supported"
		return r
	}

	localID, err := g.entities.LocalID(ctx, g.nodeID, e)
	if err != nil {
		r.Err = err
		return r
	}
	r.LocalID = localID

	body, err := g.soap.Call(ctx, OpCustomerCreateUpdate, g.Payload(e, localID))
	if err != nil {
		if localID == "" && isDuplicateKey(err) {
			r.LocalID, r.Err = g.reconcile(ctx, e, err, g.lookup(e.UniqueID()))
			r.Linked = r.Err == nil
			return r
		}
		r.Err = err
		return r
	}

	_, id, err := result(body, "Customer", "CustomerId")
	if err != nil {
		r.Err = err
		return r
	}
	if localID != "" {
		return r
	}
	r.LocalID, r.Err = id, g.linkCreated(ctx, e, id)
	r.Linked = r.Err == nil
	return r
}

func (g *CustomerGateway) lookup(email string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		body, err := g.soap.Call(ctx, OpCustomerLookup, soap.Fields{soap.F("BillEmail", email)})
		if err != nil {
			return "", err
		}
		if c, ok := matchRow(rows(body, "//Customer"), "BillEmail", email, strings.EqualFold); ok {
			return c["CustomerId"], nil
		}
		return "", nil
	}
}

// Retrieve reads customers changed since the watermark and upserts them.
func (g *CustomerGateway) Retrieve(ctx context.Context) (int, error) {
	since, next, err := g.retrieveWindow(ctx)
	if err != nil {
		return 0, err
	}
	body, err := g.soap.Call(ctx, OpCustomerBulk, soap.Fields{
		soap.F("LastUpdated", since),
		soap.F("ChannelId", g.channelID()),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve customers: %w", err)
	}

	count := 0
	for _, c := range rows(body, "//Customer") {
		localID := c["CustomerId"]
		email := strings.ToLower(c["BillEmail"])
		if localID == "" || email == "" {
			g.logger.Warn("Skipping customer without id or email",
				zap.String("local_id", localID),
				zap.String("email", email))
			continue
		}

		rec := hub.NewRecord("retailex_customer", localID, 0, toAttributes(c))
		data, _ := g.engine.Resolve(customerInboundMap, rec, nil)
		if _, _, err := g.upsert(ctx, hub.TypeCustomer, email, localID, data.Map()); err != nil {
			return count, err
		}
		count++
	}

	g.logger.Info("Retrieved customers", zap.Int("count", count), zap.Time("since", since))
	return count, g.commitRetrieve(ctx, next)
}

func (g *CustomerGateway) WriteAction(ctx context.Context, action hub.Action) error {
	return fmt.Errorf("%w: %s on customer", ErrUnsupportedAction, action.Type)
}
