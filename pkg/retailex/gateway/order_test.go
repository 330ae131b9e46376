package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const orderCreated = `<OrderCreateByChannelResponse><Order Result="Success" OrderId="9001"/></OrderCreateByChannelResponse>`

func testOrder(f *fixture, status string) *hub.Record {
	address := hub.NewRecord(hub.TypeAddress, "oa", 0, map[string]any{
		"first_name":   "Ann",
		"last_name":    "Lee",
		"street":       "5 Main Rd",
		"city":         "Christchurch",
		"postcode":     "8011",
		"country_code": "NZ",
	})
	items := []hub.Entity{
		hub.NewRecord(hub.TypeOrderItem, "1000-1", 0, map[string]any{"sku": "POS-101", "quantity": 2, "price": decimal.RequireFromString("19.95")}),
		hub.NewRecord(hub.TypeOrderItem, "1000-2", 0, map[string]any{"sku": "POS-102", "quantity": 1, "price": decimal.NewFromInt(5)}),
	}
	payments := []hub.Entity{
		hub.NewRecord("payment", "1000-p", 0, map[string]any{"method_id": 3, "amount": decimal.RequireFromString("44.90"), "date": fixedNow}),
	}
	return f.store.Add(hub.NewRecord(hub.TypeOrder, "1000", 0, map[string]any{
		"status":          status,
		"placed_at":       fixedNow,
		"grand_total":     decimal.RequireFromString("44.90"),
		"customer_email":  "ann@example.com",
		"billing_address": address,
		"items":           items,
		"payments":        payments,
	}))
}

func TestOrderCreate(t *testing.T) {
	f := newFixture()
	f.caller.on(OpOrderCreate, orderCreated)
	g := NewOrderGateway(f.deps)
	order := testOrder(f, HubStatusProcessing)

	require.NoError(t, g.WriteUpdates(context.Background(), order, nil, hub.UpdateTypeCreate))
	assert.Equal(t, "9001", f.localID(t, order))

	c, _ := f.caller.last(OpOrderCreate)
	assert.Equal(t, "<OrderXML><![CDATA[<Orders>"+
		"<Order><ExternalOrderId>1000</ExternalOrderId><ChannelId>7</ChannelId><DateCreated>2024-03-01T12:00:00Z</DateCreated>"+
		"<OrderTotal>44.9</OrderTotal><OrderStatus>Processed</OrderStatus><BillEmail>ann@example.com</BillEmail>"+
		"<BillFirstName>Ann</BillFirstName><BillLastName>Lee</BillLastName><BillAddress>5 Main Rd</BillAddress>"+
		"<BillSuburb>Christchurch</BillSuburb><BillState>Christchurch</BillState><BillPostCode>8011</BillPostCode><BillCountry>NZ</BillCountry>"+
		"<DelFirstName>Ann</DelFirstName><DelLastName>Lee</DelLastName><DelAddress>5 Main Rd</DelAddress>"+
		"<DelSuburb>Christchurch</DelSuburb><DelState>Christchurch</DelState><DelPostCode>8011</DelPostCode><DelCountry>NZ</DelCountry></Order>"+
		"<OrderItems>"+
		"<OrderItem><ExternalOrderItemId>1000-1</ExternalOrderItemId><ProductId>101</ProductId><QtyOrdered>2</QtyOrdered><QtyFulfilled>0</QtyFulfilled><UnitPrice>19.95</UnitPrice><DeliveryMethod>home</DeliveryMethod></OrderItem>"+
		"<OrderItem><ExternalOrderItemId>1000-2</ExternalOrderItemId><ProductId>102</ProductId><QtyOrdered>1</QtyOrdered><QtyFulfilled>0</QtyFulfilled><UnitPrice>5</UnitPrice><DeliveryMethod>home</DeliveryMethod></OrderItem>"+
		"</OrderItems>"+
		"<OrderPayments><OrderPayment><MethodId>3</MethodId><Amount>44.9</Amount><DateCreated>2024-03-01T12:00:00Z</DateCreated><ExternalOrderId>1000</ExternalOrderId></OrderPayment></OrderPayments>"+
		"</Orders>]]></OrderXML>", c.XML())
}

func TestOrderCreateSendsCustomerID(t *testing.T) {
	f := newFixture()
	f.caller.on(OpOrderCreate, orderCreated)
	g := NewOrderGateway(f.deps)
	customer := f.store.Add(hub.NewRecord(hub.TypeCustomer, "ann@example.com", 0, nil))
	require.NoError(t, f.store.Link(context.Background(), 3, customer, "C1"))
	order := f.store.Add(hub.NewRecord(hub.TypeOrder, "1001", 0, map[string]any{"customer": customer}))

	require.NoError(t, g.WriteUpdates(context.Background(), order, nil, hub.UpdateTypeCreate))
	c, _ := f.caller.last(OpOrderCreate)
	assert.Contains(t, c.XML(), "<CustomerId>C1</CustomerId>")
}

func TestOrderCreateLinkedIsError(t *testing.T) {
	f := newFixture()
	g := NewOrderGateway(f.deps)
	order := testOrder(f, HubStatusProcessing)
	require.NoError(t, f.store.Link(context.Background(), 3, order, "5"))

	err := g.WriteUpdates(context.Background(), order, nil, hub.UpdateTypeCreate)
	assert.ErrorIs(t, err, ErrAlreadyLinked)
	assert.Empty(t, f.caller.calls)
}

func TestOrderUpdateLinkedIsSkipped(t *testing.T) {
	f := newFixture()
	core, logs := observer.New(zapcore.InfoLevel)
	f.deps.Logger = zap.New(core)
	g := NewOrderGateway(f.deps)
	order := testOrder(f, HubStatusProcessing)
	require.NoError(t, f.store.Link(context.Background(), 3, order, "5"))

	require.NoError(t, g.WriteUpdates(context.Background(), order, []string{"status"}, hub.UpdateTypeUpdate))
	assert.Empty(t, f.caller.calls)

	skipped := logs.FilterMessage("Write skipped").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "5", skipped[0].ContextMap()["local_id"])
}

func TestOrderCreateWithoutOrderID(t *testing.T) {
	f := newFixture()
	f.caller.on(OpOrderCreate, `<Order Result="Success"/>`)
	g := NewOrderGateway(f.deps)
	order := testOrder(f, HubStatusProcessing)

	err := g.WriteUpdates(context.Background(), order, nil, hub.UpdateTypeCreate)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Empty(t, f.localID(t, order))
}

func TestOrderCreateDuplicateIsReconciled(t *testing.T) {
	f := newFixture()
	f.caller.fail(OpOrderCreate, duplicateFault(OpOrderCreate))
	f.caller.on(OpOrderLookup, `<Orders><Order><OrderId>9002</OrderId><ExternalOrderId>1000</ExternalOrderId></Order></Orders>`)
	g := NewOrderGateway(f.deps)
	order := testOrder(f, HubStatusProcessing)

	require.NoError(t, g.WriteUpdates(context.Background(), order, nil, hub.UpdateTypeCreate))
	assert.Equal(t, "9002", f.localID(t, order))
	lookup, _ := f.caller.last(OpOrderLookup)
	assert.Equal(t, "<ret:ExternalOrderId>1000</ret:ExternalOrderId><ret:ChannelId>7</ret:ChannelId>", lookup.XML())
}

func TestOrderCreateDuplicateIgnoresUnkeyedRows(t *testing.T) {
	f := newFixture()
	f.caller.fail(OpOrderCreate, duplicateFault(OpOrderCreate))
	f.caller.on(OpOrderLookup, `<Orders><Order><OrderId>9010</OrderId></Order>`+
		`<Order><OrderId>9011</OrderId><ExternalOrderId>999</ExternalOrderId></Order></Orders>`)
	order := testOrder(f, HubStatusProcessing)

	err := NewOrderGateway(f.deps).WriteUpdates(context.Background(), order, nil, hub.UpdateTypeCreate)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Empty(t, f.localID(t, order))
}

func TestOrderCreateLinksOnce(t *testing.T) {
	f := newFixture()
	f.caller.on(OpOrderCreate, orderCreated)
	g := NewOrderGateway(f.deps)
	order := testOrder(f, HubStatusProcessing)
	ctx := context.Background()

	require.NoError(t, g.WriteUpdates(ctx, order, nil, hub.UpdateTypeCreate))
	require.Error(t, g.WriteUpdates(ctx, order, nil, hub.UpdateTypeCreate))
	assert.Len(t, f.caller.calls, 1)
	assert.Equal(t, "9001", f.localID(t, order))
}

func TestOrderActions(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		linked  bool
		action  hub.Action
		respond string
		wantOp  string
		wantXML string
		wantErr error
	}{
		{
			name:    "cancel canceled order",
			status:  HubStatusCanceled,
			linked:  true,
			action:  hub.Action{Type: ActionCancel},
			respond: `<Result>Success</Result>`,
			wantOp:  OpOrderCancel,
			wantXML: "<ret:OrderId>9001</ret:OrderId>",
		},
		{
			name:    "cancel needs canceled status",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: ActionCancel},
			wantErr: ErrPrecondition,
		},
		{
			name:    "cancel needs link",
			status:  HubStatusCanceled,
			action:  hub.Action{Type: ActionCancel},
			wantErr: ErrPrecondition,
		},
		{
			name:    "add payment",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: ActionAddPayment, Data: map[string]any{"amount": "10.50", "method_id": 2}},
			wantOp:  OpOrderAddPayment,
			wantXML: "<PaymentXML><![CDATA[<OrderPayments><OrderPayment><OrderId>9001</OrderId><MethodId>2</MethodId>" +
				"<Amount>10.5</Amount><DateCreated>2024-03-01T12:00:00Z</DateCreated></OrderPayment></OrderPayments>]]></PaymentXML>",
		},
		{
			name:    "add payment needs positive amount",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: ActionAddPayment, Data: map[string]any{"amount": 0}},
			wantErr: ErrPrecondition,
		},
		{
			name:    "credit memo is a negative payment",
			status:  HubStatusComplete,
			linked:  true,
			action:  hub.Action{Type: ActionCreditMemo, Data: map[string]any{"amount": 5}},
			wantOp:  OpOrderAddPayment,
			wantXML: "<Amount>-5</Amount>",
		},
		{
			name:    "comment",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: ActionComment, Data: map[string]any{"comment": "hello"}},
			wantOp:  OpOrderAddNote,
			wantXML: "<ret:OrderId>9001</ret:OrderId><NoteXML><![CDATA[<Note><Body>hello</Body><IsPrivate>0</IsPrivate></Note>]]></NoteXML>",
		},
		{
			name:    "empty comment",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: ActionComment},
			wantErr: ErrPrecondition,
		},
		{
			name:    "ship",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: ActionShip, Data: map[string]any{"carrier": "NZ Post", "tracking_number": "TRK1"}},
			wantOp:  OpOrderFulfil,
			wantXML: "<Carrier>NZ Post</Carrier><TrackingNumber>TRK1</TrackingNumber><OrderItems><OrderItem><ProductId>101</ProductId><QtyFulfilled>2</QtyFulfilled></OrderItem>",
		},
		{
			name:    "ship canceled order",
			status:  HubStatusCanceled,
			linked:  true,
			action:  hub.Action{Type: ActionShip},
			wantErr: ErrPrecondition,
		},
		{
			name:    "hold",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: ActionHold},
			wantOp:  OpOrderStatusUpdate,
			wantXML: "<ret:OrderId>9001</ret:OrderId><ret:OrderStatus>On Hold</ret:OrderStatus>",
		},
		{
			name:    "hold complete order",
			status:  HubStatusComplete,
			linked:  true,
			action:  hub.Action{Type: ActionHold},
			wantErr: ErrPrecondition,
		},
		{
			name:    "unhold",
			status:  HubStatusHolded,
			linked:  true,
			action:  hub.Action{Type: ActionUnhold},
			wantOp:  OpOrderStatusUpdate,
			wantXML: "<ret:OrderStatus>Processed</ret:OrderStatus>",
		},
		{
			name:    "unhold order not on hold",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: ActionUnhold},
			wantErr: ErrPrecondition,
		},
		{
			name:    "unknown action",
			status:  HubStatusProcessing,
			linked:  true,
			action:  hub.Action{Type: "invoice"},
			wantErr: ErrUnsupportedAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.respond != "" {
				f.caller.on(tt.wantOp, tt.respond)
			}
			g := NewOrderGateway(f.deps)
			order := testOrder(f, tt.status)
			if tt.linked {
				require.NoError(t, f.store.Link(context.Background(), 3, order, "9001"))
			}
			action := tt.action
			action.Entity = order

			err := g.WriteAction(context.Background(), action)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, f.caller.calls)
				return
			}
			require.NoError(t, err)
			c, ok := f.caller.last(tt.wantOp)
			require.True(t, ok)
			assert.Contains(t, c.XML(), tt.wantXML)
		})
	}
}

func TestOrderActionBackendFailure(t *testing.T) {
	f := newFixture()
	f.caller.on(OpOrderCancel, `<Result>Order already fulfilled</Result>`)
	g := NewOrderGateway(f.deps)
	order := testOrder(f, HubStatusCanceled)
	require.NoError(t, f.store.Link(context.Background(), 3, order, "9001"))

	err := g.WriteAction(context.Background(), hub.Action{Type: ActionCancel, Entity: order})
	assert.ErrorContains(t, err, "Order already fulfilled")
}

func TestOrderRetrieveUpdatesStatuses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	linked := testOrder(f, HubStatusProcessing)
	require.NoError(t, f.store.Link(ctx, 3, linked, "9001"))
	byExternal := f.store.Add(hub.NewRecord(hub.TypeOrder, "2000", 0, map[string]any{"status": HubStatusProcessing}))
	unchanged := f.store.Add(hub.NewRecord(hub.TypeOrder, "3000", 0, map[string]any{"status": HubStatusHolded}))
	require.NoError(t, f.store.Link(ctx, 3, unchanged, "9003"))

	f.caller.on(OpOrdersByChannel, `<Orders>`+
		`<Order><OrderId>9001</OrderId><OrderStatus>Cancelled</OrderStatus></Order>`+
		`<Order><OrderId>9002</OrderId><ExternalOrderId>2000</ExternalOrderId><OrderStatus>Fulfilled</OrderStatus></Order>`+
		`<Order><OrderId>9003</OrderId><OrderStatus>On Hold</OrderStatus></Order>`+
		`<Order><OrderId>9004</OrderId><OrderStatus>Processed</OrderStatus></Order>`+
		`<Order><OrderId>9005</OrderId><OrderStatus>Mystery</OrderStatus></Order>`+
		`</Orders>`)
	require.NoError(t, f.timestamps.SetLastRetrieve(ctx, 3, hub.TypeOrder, fixedNow.Add(-time.Hour)))
	f.deps.ForceResync = true
	g := NewOrderGateway(f.deps)

	n, err := g.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, HubStatusCanceled, linked.Attribute("status"))
	assert.Equal(t, HubStatusComplete, byExternal.Attribute("status"))
	assert.Equal(t, "9002", f.localID(t, byExternal))
	assert.Equal(t, HubStatusHolded, unchanged.Attribute("status"))

	c, _ := f.caller.last(OpOrdersByChannel)
	since, ok := c.Payload.Get("LastUpdated")
	require.True(t, ok)
	assert.WithinDuration(t, fixedNow.Add(-time.Hour-84*time.Minute), since.(time.Time), time.Second)
}

func TestHubStatus(t *testing.T) {
	s, ok := HubStatus(" on hold ")
	assert.True(t, ok)
	assert.Equal(t, HubStatusHolded, s)
	_, ok = HubStatus("unknown")
	assert.False(t, ok)
}

func TestOrderPayloadWithoutItems(t *testing.T) {
	f := newFixture()
	g := NewOrderGateway(f.deps)
	order := hub.NewRecord(hub.TypeOrder, "1", 0, nil)

	xml := soap.Serialize(g.Payload(order, ""))
	assert.Equal(t, "<OrderXML><![CDATA[<Orders><Order><ExternalOrderId>1</ExternalOrderId><ChannelId>7</ChannelId><OrderStatus>Processed</OrderStatus></Order></Orders>]]></OrderXML>", xml)
}

func TestOrderRetrieveAfterRestart(t *testing.T) {
	ctx := context.Background()
	records := hub.NewMemoryRecords()
	links := hub.NewMemoryLinks()

	// first run: the order exists and is linked
	before := hub.NewPersistentStore(links, records, zap.NewNop())
	order, err := before.Create(ctx, 3, hub.TypeOrder, 0, "1000", map[string]any{"status": HubStatusProcessing}, nil)
	require.NoError(t, err)
	require.NoError(t, before.Link(ctx, 3, order, "5001"))

	// second run starts with an empty in-memory view
	f := newFixture()
	after := hub.NewPersistentStore(links, records, zap.NewNop())
	f.store = after
	f.deps.Entities = after
	f.caller.on(OpOrdersByChannel, `<Orders><Order><OrderId>5001</OrderId><OrderStatus>Cancelled</OrderStatus></Order></Orders>`)

	n, err := NewOrderGateway(f.deps).Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reloaded, err := hub.NewPersistentStore(links, records, zap.NewNop()).Load(ctx, 3, hub.TypeOrder, 0, "1000")
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, HubStatusCanceled, reloaded.Attribute("status"))

	last, err := f.timestamps.LastRetrieve(ctx, 3, hub.TypeOrder)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, last)
}
