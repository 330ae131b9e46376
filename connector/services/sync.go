package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// DefaultMaxConcurrency bounds how many nodes are retrieved at once.
const DefaultMaxConcurrency = 4

// Node is what the sync service needs from a Retail Express node.
type Node interface {
	ID() int
	Retrieve(ctx context.Context, entityType string) (int, error)
}

// SyncMetrics tracks the overall sync operation metrics
type SyncMetrics struct {
	NodesSucceeded int
	NodesFailed    int
	TypesSucceeded int
	TypesFailed    int
	Retrieved      int
	mu             sync.Mutex
}

// AddTypeSuccess records one entity type retrieved with n entities written.
func (m *SyncMetrics) AddTypeSuccess(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TypesSucceeded++
	m.Retrieved += n
}

func (m *SyncMetrics) AddTypeFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TypesFailed++
}

func (m *SyncMetrics) AddNodeSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NodesSucceeded++
}

func (m *SyncMetrics) AddNodeFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.NodesFailed++
}

// SyncService retrieves every configured entity type from every node. Nodes
// run concurrently; the types of one node run in order.
type SyncService struct {
	nodes          []Node
	types          []string
	maxConcurrency int
	logger         *zap.Logger
}

// NewSyncService creates a new sync service
func NewSyncService(nodes []Node, types []string, logger *zap.Logger) *SyncService {
	return &SyncService{
		nodes:          nodes,
		types:          types,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         logger,
	}
}

// WithMaxConcurrency overrides DefaultMaxConcurrency.
func (s *SyncService) WithMaxConcurrency(n int) *SyncService {
	if n > 0 {
		s.maxConcurrency = n
	}
	return s
}

// SyncAll retrieves from all nodes. A failing node does not stop the others;
// the returned error joins every node failure.
func (s *SyncService) SyncAll(ctx context.Context) (*SyncMetrics, error) {
	startTime := time.Now()
	s.logger.Info("Starting sync",
		zap.Int("nodes", len(s.nodes)),
		zap.Strings("entity_types", s.types))

	metrics := &SyncMetrics{}
	p := pool.New().WithMaxGoroutines(s.maxConcurrency).WithErrors()
	for _, node := range s.nodes {
		p.Go(func() error {
			if err := s.SyncNode(ctx, node, metrics); err != nil {
				metrics.AddNodeFailure()
				return fmt.Errorf("node %d: %w", node.ID(), err)
			}
			metrics.AddNodeSuccess()
			return nil
		})
	}
	err := p.Wait()

	s.logger.Info("Completed sync",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("nodes_succeeded", metrics.NodesSucceeded),
		zap.Int("nodes_failed", metrics.NodesFailed),
		zap.Int("types_succeeded", metrics.TypesSucceeded),
		zap.Int("types_failed", metrics.TypesFailed),
		zap.Int("retrieved", metrics.Retrieved))

	if err != nil {
		return metrics, fmt.Errorf("failed to sync nodes: %w", err)
	}
	return metrics, nil
}

// SyncNode retrieves each entity type in turn. A failed type is logged and
// the next one still runs.
func (s *SyncService) SyncNode(ctx context.Context, node Node, metrics *SyncMetrics) error {
	var errs []error
	for _, entityType := range s.types {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		n, err := node.Retrieve(ctx, entityType)
		if err != nil {
			metrics.AddTypeFailure()
			s.logger.Error("Failed to retrieve",
				zap.Int("node_id", node.ID()),
				zap.String("entity_type", entityType),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", entityType, err))
			continue
		}
		metrics.AddTypeSuccess(n)
		s.logger.Info("Retrieved",
			zap.Int("node_id", node.ID()),
			zap.String("entity_type", entityType),
			zap.Int("count", n))
	}
	return errors.Join(errs...)
}
