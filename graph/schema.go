package graph

import (
	"context"
	"fmt"

	apperrors "graph-ingest/errors"

	"go.uber.org/zap"
)

// Schema declares the uniqueness constraints and vector indexes the graph
// relies on. Every statement it issues is idempotent.
type Schema struct {
	store  Store
	logger *zap.Logger
}

func NewSchema(store Store, logger *zap.Logger) *Schema {
	return &Schema{store: store, logger: logger}
}

// ExistingDimension returns the dimension of the already-declared vector
// indexes, or 0 when none exist yet.
func (s *Schema) ExistingDimension(ctx context.Context) (int, error) {
	names := make([]string, 0, len(VectorIndexes))
	for _, idx := range VectorIndexes {
		names = append(names, idx.Name)
	}

	rows, err := s.store.Query(ctx, s.store.Dialect().VectorIndexDimensions(), map[string]any{"names": names})
	if err != nil {
		return 0, fmt.Errorf("read vector index dimensions: %w", err)
	}

	dim := 0
	for _, row := range rows {
		d := int(asInt64(row["dimension"]))
		if d <= 0 {
			continue
		}
		if dim != 0 && d != dim {
			return 0, fmt.Errorf("%w: vector indexes disagree on dimension (%d vs %d)", apperrors.ErrConfiguration, dim, d)
		}
		dim = d
	}
	return dim, nil
}

// Ensure creates constraints and vector indexes for the given dimension.
// If indexes already exist with another dimension nothing is written and
// ErrConfiguration is returned.
func (s *Schema) Ensure(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive, got %d", apperrors.ErrConfiguration, dimension)
	}

	existing, err := s.ExistingDimension(ctx)
	if err != nil {
		return err
	}
	if existing != 0 && existing != dimension {
		return fmt.Errorf("%w: store vector index has dimension %d but the embedding model produces %d",
			apperrors.ErrConfiguration, existing, dimension)
	}

	d := s.store.Dialect()
	statements := append([]string{}, d.Bootstrap(dimension)...)
	for _, label := range labelOrder {
		statements = append(statements, d.UniqueConstraint(label, label.KeyProperty()))
	}
	for _, idx := range VectorIndexes {
		statements = append(statements, d.VectorIndex(idx, dimension))
	}

	for _, stmt := range statements {
		if _, err := s.store.Query(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	s.logger.Info("Graph schema ensured",
		zap.String("dialect", d.Name()),
		zap.Int("dimension", dimension),
		zap.Int("statements", len(statements)))
	return nil
}
