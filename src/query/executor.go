package query

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/relcore/src"
	"github.com/Blackdeer1524/relcore/src/pkg/common"
	"github.com/Blackdeer1524/relcore/src/txns"
)

var tracer = otel.Tracer("github.com/Blackdeer1524/relcore/src/query")

type TableInfo struct {
	ID     common.TableID
	Name   string
	Schema Schema
}

// Catalog resolves relations by name and scans their records.
type Catalog interface {
	Describe(ctx context.Context, name string) (TableInfo, error)
	Scan(ctx context.Context, table common.TableID) ([]Record, error)
}

type Executor struct {
	catalog Catalog
	locks   *txns.Hierarchy
	log     src.Logger
}

func New(catalog Catalog, locks *txns.Hierarchy, log src.Logger) *Executor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{
		catalog: catalog,
		locks:   locks,
		log:     log,
	}
}

type JoinResult struct {
	Schema Schema
	Rows   *SortMergeIterator
}

// Join reads both relations under table-level S locks of the transaction
// carried by ctx and returns their sort-merge equi-join on leftCol =
// rightCol. The locks are held until the caller releases the transaction.
func (e *Executor) Join(
	ctx context.Context,
	leftTable string,
	rightTable string,
	leftCol string,
	rightCol string,
) (_ *JoinResult, err error) {
	if e.catalog == nil {
		return nil, errors.New("catalog is nil")
	}

	ctx, span := tracer.Start(
		ctx,
		"query.Join",
		trace.WithAttributes(
			attribute.String("left", leftTable),
			attribute.String("right", rightTable),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	left, leftIdx, err := e.describe(ctx, leftTable, leftCol)
	if err != nil {
		return nil, err
	}
	right, rightIdx, err := e.describe(ctx, rightTable, rightCol)
	if err != nil {
		return nil, err
	}

	leftRun, err := e.sortedScan(ctx, left, leftIdx)
	if err != nil {
		return nil, err
	}
	rightRun, err := e.sortedScan(ctx, right, rightIdx)
	if err != nil {
		return nil, err
	}

	rows, err := NewSortMergeIterator(leftRun, rightRun, leftIdx, rightIdx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start join")
	}

	e.log.Debugw(
		"join planned",
		"left", left.Name,
		"right", right.Name,
		"left_rows", leftRun.Len(),
		"right_rows", rightRun.Len(),
	)

	return &JoinResult{
		Schema: left.Schema.Qualified(left.Name).Concat(
			right.Schema.Qualified(rightQualifier(left, right)),
		),
		Rows:   rows,
	}, nil
}

func (e *Executor) describe(ctx context.Context, table string, col string) (TableInfo, int, error) {
	info, err := e.catalog.Describe(ctx, table)
	if err != nil {
		return TableInfo{}, 0, errors.Wrapf(err, "failed to describe %q", table)
	}

	idx, err := info.Schema.IndexOf(col)
	if err != nil {
		return TableInfo{}, 0, errors.Wrapf(err, "table %q", table)
	}
	return info, idx, nil
}

func (e *Executor) sortedScan(ctx context.Context, table TableInfo, col int) (*SliceIterator[Record], error) {
	if e.locks != nil {
		err := txns.EnsureSufficientLockHeld(ctx, e.locks.Table(table.ID), txns.LockShared)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to lock %q", table.Name)
		}
	}

	records, err := e.catalog.Scan(ctx, table.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan %q", table.Name)
	}

	run, err := SortRecords(records, col)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sort %q", table.Name)
	}
	return run, nil
}

// rightQualifier prefixes the right-hand columns. A self-join would otherwise
// produce every column name twice.
func rightQualifier(left, right TableInfo) string {
	if left.Name == right.Name {
		return right.Name + "#2"
	}
	return right.Name
}
