// Package retailex wires one Retail Express node: its configuration, its SOAP
// client and the gateways that use it.
package retailex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/natserract/retailex/pkg/config"
	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/gateway"
	"github.com/natserract/retailex/pkg/retailex/refdata"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"go.uber.org/zap"
)

var (
	ErrInitFailed        = errors.New("retail express node failed to initialise")
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// EntityTypes are the types a node synchronises, in retrieve order. Products
// come first so orders can reference them.
var EntityTypes = []string{hub.TypeProduct, hub.TypeCustomer, hub.TypeOrder}

type Options struct {
	RefData     *refdata.Tables
	ForceResync bool
	// Timeout is the per-attempt HTTP timeout. Zero keeps the client default.
	Timeout time.Duration
	// Caller replaces the SOAP client, e.g. for dry runs against canned data.
	Caller soap.Caller
	Now    func() time.Time
}

// Node creates its SOAP client on first use and hands out one gateway per
// entity type. A failed initialisation is remembered and not retried.
type Node struct {
	config     *config.Config
	entities   hub.EntityService
	timestamps hub.TimestampTracker
	opts       Options
	logger     *zap.Logger

	mu       sync.Mutex
	caller   soap.Caller
	client   *soap.Client
	initErr  error
	gateways map[string]gateway.Gateway
}

func NewNode(cfg *config.Config, entities hub.EntityService, timestamps hub.TimestampTracker, opts Options) *Node {
	logger, _ := zap.NewProduction()
	return NewNodeWithLogger(cfg, entities, timestamps, logger, opts)
}

// NewNodeWithLogger creates a node with a custom logger
func NewNodeWithLogger(cfg *config.Config, entities hub.EntityService, timestamps hub.TimestampTracker, logger *zap.Logger, opts Options) *Node {
	if opts.RefData == nil {
		opts.RefData = refdata.Default()
	}
	return &Node{
		config:     cfg,
		entities:   entities,
		timestamps: timestamps,
		opts:       opts,
		logger:     logger.With(zap.Int("node_id", cfg.NodeID)),
		gateways:   make(map[string]gateway.Gateway),
	}
}

func (n *Node) ID() int {
	return n.config.NodeID
}

// Init validates the configuration and creates the SOAP client.
func (n *Node) Init() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.init()
}

func (n *Node) init() error {
	if n.caller != nil {
		return nil
	}
	if n.initErr != nil {
		return n.initErr
	}

	if err := n.config.Validate(); err != nil {
		n.initErr = fmt.Errorf("%w: %v", ErrInitFailed, err)
		n.logger.Error("Failed to create soap api", zap.Error(err))
		return n.initErr
	}

	if n.opts.Caller != nil {
		n.caller = n.opts.Caller
	} else {
		var clientOpts []soap.Option
		if n.opts.Timeout > 0 {
			clientOpts = append(clientOpts, soap.WithTimeout(n.opts.Timeout))
		}
		n.client = soap.NewClientWithLogger(n.config, n.logger, clientOpts...)
		n.caller = n.client
	}
	n.logger.Info("Created soap api",
		zap.String("endpoint", n.config.Endpoint()),
		zap.String("channel_id", n.config.ChannelID))
	return nil
}

// Gateway returns the gateway serving entityType, creating it on first use.
func (n *Node) Gateway(entityType string) (gateway.Gateway, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.init(); err != nil {
		return nil, err
	}
	owner, ok := gatewayOwners[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, entityType)
	}
	if g, ok := n.gateways[owner]; ok {
		return g, nil
	}

	deps := gateway.Deps{
		NodeID:      n.config.NodeID,
		Soap:        n.caller,
		Entities:    n.entities,
		Config:      n.config,
		Timestamps:  n.timestamps,
		RefData:     n.opts.RefData,
		Logger:      n.logger,
		ForceResync: n.opts.ForceResync,
		Now:         n.opts.Now,
	}

	var g gateway.Gateway
	switch owner {
	case hub.TypeCustomer:
		g = gateway.NewCustomerGateway(deps)
	case hub.TypeProduct:
		g = gateway.NewProductGateway(deps)
	case hub.TypeOrder:
		g = gateway.NewOrderGateway(deps)
	}
	n.gateways[owner] = g
	return g, nil
}

// gatewayOwners maps every routable entity type to the gateway serving it.
// Addresses travel with customers and order items with orders.
var gatewayOwners = map[string]string{
	hub.TypeCustomer:  hub.TypeCustomer,
	hub.TypeAddress:   hub.TypeCustomer,
	hub.TypeProduct:   hub.TypeProduct,
	hub.TypeOrder:     hub.TypeOrder,
	hub.TypeOrderItem: hub.TypeOrder,
}

func (n *Node) Retrieve(ctx context.Context, entityType string) (int, error) {
	g, err := n.Gateway(entityType)
	if err != nil {
		return 0, err
	}
	return g.Retrieve(ctx)
}

func (n *Node) WriteUpdates(ctx context.Context, e hub.Entity, changed []string, updateType hub.UpdateType) error {
	g, err := n.Gateway(e.Type())
	if err != nil {
		return err
	}
	return g.WriteUpdates(ctx, e, changed, updateType)
}

func (n *Node) WriteAction(ctx context.Context, action hub.Action) error {
	if action.Entity == nil {
		return fmt.Errorf("action %s has no entity", action.Type)
	}
	g, err := n.Gateway(action.Entity.Type())
	if err != nil {
		return err
	}
	return g.WriteAction(ctx, action)
}

// Close releases the SOAP client's connections.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		n.client.Close()
	}
}
