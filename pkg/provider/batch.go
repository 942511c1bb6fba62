package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/cupboard-tools/pkg/router"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// OpType names the write an Operation performs.
type OpType string

// Batch operation types.
const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// ErrInvalidOperation is returned for a batch operation with an unknown type.
var ErrInvalidOperation = errors.New("invalid batch operation")

// Operation is one write of a batch.
type Operation struct {
	Type      OpType
	URI       string
	Values    types.Values
	Selection types.Selection
}

// Result reports the outcome of one Operation: the stored uri for inserts,
// the affected row count for updates and deletes.
type Result struct {
	URI   string
	Count int64
}

// NewInsert returns an insert operation.
func NewInsert(uri string, values types.Values) Operation {
	return Operation{Type: OpInsert, URI: uri, Values: values}
}

// NewUpdate returns an update operation.
func NewUpdate(uri string, values types.Values, sel types.Selection) Operation {
	return Operation{Type: OpUpdate, URI: uri, Values: values, Selection: sel}
}

// NewDelete returns a delete operation.
func NewDelete(uri string, sel types.Selection) Operation {
	return Operation{Type: OpDelete, URI: uri, Selection: sel}
}

// ApplyBatch runs ops in order inside one transaction. If any operation
// fails the whole batch rolls back and no results are returned. At most one
// change is published, after commit.
func (p *Provider) ApplyBatch(ctx context.Context, ops []Operation) ([]Result, error) {
	matches := make([]router.Match, len(ops))
	for i, op := range ops {
		m, err := p.classify(string(op.Type), op.URI)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		matches[i] = m
	}

	var results []Result
	syncURI := ""
	err := p.db.Transact(ctx, p.listener, func(c types.Compartment) error {
		results = make([]Result, 0, len(ops))
		for i, op := range ops {
			res, err := p.apply(c, matches[i], op)
			if err != nil {
				return fmt.Errorf("operation %d (%s %s): %w", i, op.Type, op.URI, err)
			}
			if res.URI != "" || res.Count > 0 {
				syncURI = op.URI
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if syncURI != "" {
		p.notifyChange(syncURI)
	}
	p.logger.Debug("batch", "ops", len(ops))
	return results, nil
}

func (p *Provider) apply(c types.Compartment, m router.Match, op Operation) (Result, error) {
	switch op.Type {
	case OpInsert:
		uri, err := p.insert(c, m, op.URI, op.Values)
		return Result{URI: uri}, err
	case OpUpdate:
		n, err := p.update(c, m, op.URI, op.Values, op.Selection)
		return Result{Count: n}, err
	case OpDelete:
		n, err := p.delete(c, m, op.URI, op.Selection)
		return Result{Count: n}, err
	default:
		return Result{}, fmt.Errorf("type %q: %w", op.Type, ErrInvalidOperation)
	}
}
