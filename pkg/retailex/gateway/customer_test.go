package gateway

import (
	"context"
	"testing"

	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customerCreated = `<CustomerCreateUpdateResponse><Customer Result="Success" CustomerId="501"/></CustomerCreateUpdateResponse>`

func testCustomer(f *fixture) *hub.Record {
	billing := hub.NewRecord(hub.TypeAddress, "b1", 0, map[string]any{
		"first_name":   "Robert",
		"last_name":    "Smith",
		"street":       "1 Queen St\nPonsonby",
		"city":         "Auckland",
		"region":       "Auckland",
		"postcode":     "1010",
		"country_code": "NZ",
		"telephone":    "021",
	})
	return f.store.Add(hub.NewRecord(hub.TypeCustomer, "bob@example.com", 0, map[string]any{
		"first_name":        "Bob",
		"last_name":         "Smith",
		"enable_newsletter": true,
		"billing_address":   billing,
	}))
}

func customerFields(t *testing.T, c call) soap.Fields {
	t.Helper()
	x, ok := c.Payload.Get("CustomerXML")
	require.True(t, ok)
	customers, ok := x.(soap.Fields).Get("Customers")
	require.True(t, ok)
	customer, ok := customers.(soap.Fields).Get("Customer")
	require.True(t, ok)
	return customer.(soap.Fields)
}

func TestCustomerCreateLinksReturnedID(t *testing.T) {
	f := newFixture()
	f.caller.on(OpCustomerCreateUpdate, customerCreated)
	g := NewCustomerGateway(f.deps)
	customer := testCustomer(f)

	err := g.WriteUpdates(context.Background(), customer, nil, hub.UpdateTypeCreate)
	require.NoError(t, err)
	assert.Equal(t, "501", f.localID(t, customer))

	c, ok := f.caller.last(OpCustomerCreateUpdate)
	require.True(t, ok)
	fields := customerFields(t, c)

	password, ok := fields.Get("Password")
	require.True(t, ok)
	assert.Len(t, password, 16)

	assert.Equal(t, soap.Fields{
		soap.F("BillEmail", "bob@example.com"),
		soap.F("BillFirstName", "Robert"),
		soap.F("BillLastName", "Smith"),
		soap.F("BillPhone", "021"),
		soap.F("BillAddress", "1 Queen St"),
		soap.F("BillAddress2", "Ponsonby"),
		soap.F("BillSuburb", "Auckland"),
		soap.F("BillState", "Auckland"),
		soap.F("BillPostCode", "1010"),
		soap.F("BillCountry", "NZ"),
		soap.F("DelAddress", "1 Queen St"),
		soap.F("DelSuburb", "Ponsonby"),
		soap.F("DelPostCode", "1010"),
		soap.F("DelState", "Auckland"),
		soap.F("ReceivesNews", 1),
	}, fields.Without("Password"))

	assert.Contains(t, c.XML(), "<CustomerXML><![CDATA[<Customers><Customer><Password>")
}

func TestCustomerUpdateSendsLocalID(t *testing.T) {
	f := newFixture()
	f.caller.on(OpCustomerCreateUpdate, customerCreated)
	g := NewCustomerGateway(f.deps)
	customer := testCustomer(f)
	require.NoError(t, f.store.Link(context.Background(), 3, customer, "42"))

	require.NoError(t, g.WriteUpdates(context.Background(), customer, []string{"first_name"}, hub.UpdateTypeUpdate))

	c, _ := f.caller.last(OpCustomerCreateUpdate)
	fields := customerFields(t, c)
	assert.Equal(t, soap.F("CustomerId", "42"), fields[0])
	_, hasPassword := fields.Get("Password")
	assert.False(t, hasPassword)
	assert.Equal(t, "42", f.localID(t, customer))
}

func TestCustomerMissingDeliveryInformation(t *testing.T) {
	f := newFixture()
	g := NewCustomerGateway(f.deps)
	customer := hub.NewRecord(hub.TypeCustomer, "anon@example.com", 0, map[string]any{
		"first_name": "Anon",
		"last_name":  "Ymous",
	})

	fields := customerFields(t, call{Payload: g.Payload(customer, "")})
	for _, key := range []string{"DelAddress", "DelSuburb", "DelPostCode", "DelState"} {
		v, ok := fields.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, MissingInformation, v)
	}
	v, _ := fields.Get("ReceivesNews")
	assert.Equal(t, 0, v)
	v, _ = fields.Get("BillFirstName")
	assert.Equal(t, "Anon", v)
}

func TestCustomerDeliveryStreetSplit(t *testing.T) {
	f := newFixture()
	g := NewCustomerGateway(f.deps)
	shipping := hub.NewRecord(hub.TypeAddress, "s1", 0, map[string]any{
		"street": "Unit 4\n12 High St\nNewtown",
	})
	customer := hub.NewRecord(hub.TypeCustomer, "c@example.com", 0, map[string]any{"shipping_address": shipping})

	fields := customerFields(t, call{Payload: g.Payload(customer, "")})
	v, _ := fields.Get("DelAddress")
	assert.Equal(t, "Unit 4, 12 High St", v)
	v, _ = fields.Get("DelSuburb")
	assert.Equal(t, "Newtown", v)
}

func TestCustomerDuplicateIsReconciled(t *testing.T) {
	f := newFixture()
	f.caller.fail(OpCustomerCreateUpdate, duplicateFault(OpCustomerCreateUpdate))
	f.caller.on(OpCustomerLookup, `<Customers><Customer><CustomerId>77</CustomerId><BillEmail>Bob@example.com</BillEmail></Customer></Customers>`)
	g := NewCustomerGateway(f.deps)
	customer := testCustomer(f)

	require.NoError(t, g.WriteUpdates(context.Background(), customer, nil, hub.UpdateTypeCreate))
	assert.Equal(t, "77", f.localID(t, customer))
	assert.Equal(t, []string{OpCustomerCreateUpdate, OpCustomerLookup}, f.caller.operations())
}

func TestCustomerDuplicateWithoutReadBack(t *testing.T) {
	f := newFixture()
	f.caller.fail(OpCustomerCreateUpdate, duplicateFault(OpCustomerCreateUpdate))
	f.caller.on(OpCustomerLookup, `<Customers/>`)
	g := NewCustomerGateway(f.deps)
	customer := testCustomer(f)

	err := g.WriteUpdates(context.Background(), customer, nil, hub.UpdateTypeCreate)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "bob@example.com", gerr.UniqueID)
	assert.Empty(t, f.localID(t, customer))
}

func TestCustomerDuplicateReadBackNeedsMatchingEmail(t *testing.T) {
	tests := []struct {
		name   string
		lookup string
		want   string
	}{
		{
			name:   "single row without email",
			lookup: `<Customers><Customer><CustomerId>80</CustomerId></Customer></Customers>`,
			want:   "80",
		},
		{
			name: "matching row after a row without email",
			lookup: `<Customers><Customer><CustomerId>80</CustomerId></Customer>` +
				`<Customer><CustomerId>81</CustomerId><BillEmail>bob@example.com</BillEmail></Customer></Customers>`,
			want: "81",
		},
		{
			name: "several rows none matching",
			lookup: `<Customers><Customer><CustomerId>80</CustomerId></Customer>` +
				`<Customer><CustomerId>82</CustomerId><BillEmail>eve@example.com</BillEmail></Customer></Customers>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.caller.fail(OpCustomerCreateUpdate, duplicateFault(OpCustomerCreateUpdate))
			f.caller.on(OpCustomerLookup, tt.lookup)
			customer := testCustomer(f)

			err := NewCustomerGateway(f.deps).WriteUpdates(context.Background(), customer, nil, hub.UpdateTypeCreate)
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrDuplicateKey)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, f.localID(t, customer))
		})
	}
}

func TestCustomerFaultPropagates(t *testing.T) {
	f := newFixture()
	f.caller.fail(OpCustomerCreateUpdate, &soap.FaultError{Reason: "Invalid channel"})
	g := NewCustomerGateway(f.deps)

	err := g.WriteUpdates(context.Background(), testCustomer(f), nil, hub.UpdateTypeCreate)
	_, isFault := soap.IsFault(err)
	assert.True(t, isFault)
	assert.Equal(t, []string{OpCustomerCreateUpdate}, f.caller.operations())
}

func TestCustomerDeleteIsSkipped(t *testing.T) {
	f := newFixture()
	g := NewCustomerGateway(f.deps)

	require.NoError(t, g.WriteUpdates(context.Background(), testCustomer(f), nil, hub.UpdateTypeDelete))
	assert.Empty(t, f.caller.calls)
}

func TestCustomerRetrieve(t *testing.T) {
	f := newFixture()
	f.caller.on(OpCustomerBulk, `<Customers>`+
		`<Customer><CustomerId>1</CustomerId><BillEmail>A@Example.com</BillEmail><BillFirstName>Ann</BillFirstName><ReceivesNews>1</ReceivesNews></Customer>`+
		`<Customer><CustomerId>2</CustomerId><BillEmail>b@example.com</BillEmail><BillLastName>Bee</BillLastName></Customer>`+
		`<Customer><CustomerId>3</CustomerId></Customer>`+
		`</Customers>`)
	g := NewCustomerGateway(f.deps)
	ctx := context.Background()

	n, err := g.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	c, _ := f.caller.last(OpCustomerBulk)
	assert.Equal(t, "<ret:LastUpdated>1970-01-01T00:00:00Z</ret:LastUpdated><ret:ChannelId>7</ret:ChannelId>", c.XML())

	ann, err := f.store.Load(ctx, 3, hub.TypeCustomer, 0, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, ann)
	assert.Equal(t, "Ann", ann.Attribute("first_name"))
	assert.Equal(t, 1, ann.Attribute("enable_newsletter"))
	assert.Equal(t, "1", f.localID(t, ann))

	last, err := f.timestamps.LastRetrieve(ctx, 3, hub.TypeCustomer)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, last)

	// a second run updates in place
	f.caller.responses[OpCustomerBulk] = []string{`<Customers><Customer><CustomerId>1</CustomerId><BillEmail>a@example.com</BillEmail><BillFirstName>Anne</BillFirstName></Customer></Customers>`}
	_, err = g.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Anne", ann.Attribute("first_name"))
	assert.Len(t, f.store.Records(hub.TypeCustomer), 2)
}

func TestCustomerActionsUnsupported(t *testing.T) {
	f := newFixture()
	g := NewCustomerGateway(f.deps)
	err := g.WriteAction(context.Background(), hub.Action{Type: "merge", Entity: testCustomer(f)})
	assert.ErrorIs(t, err, ErrUnsupportedAction)
}
