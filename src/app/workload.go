package app

import (
	"cmp"
	"context"
	"io"
	"math/rand"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/panjf2000/ants"

	"github.com/Blackdeer1524/relcore/src"
	"github.com/Blackdeer1524/relcore/src/cfg"
	"github.com/Blackdeer1524/relcore/src/pkg/common"
	"github.com/Blackdeer1524/relcore/src/pkg/utils"
	"github.com/Blackdeer1524/relcore/src/txns"
)

// WorkloadEntrypoint runs random read/write transactions against the lock
// hierarchy and reports what they did.
type WorkloadEntrypoint struct {
	ConfigPath string
	Out        io.Writer

	cfg   cfg.Config
	log   src.Logger
	lm    *txns.Manager
	locks *txns.Hierarchy
	pool  *ants.Pool
	runID uuid.UUID
	ids   txns.TxnIDGenerator

	stats workloadStats
}

type workloadStats struct {
	committed  atomic.Int64
	failed     atomic.Int64
	pageLocks  atomic.Int64
	tableLocks atomic.Int64
}

// WorkloadSummary is written to Out as a single JSON line when the run
// finishes.
type WorkloadSummary struct {
	RunID      uuid.UUID
	Committed  int64
	Failed     int64
	PageLocks  int64
	TableLocks int64
	Elapsed    time.Duration
}

func (s WorkloadSummary) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("run_id")
	e.Str(s.RunID.String())
	e.FieldStart("committed")
	e.Int64(s.Committed)
	e.FieldStart("failed")
	e.Int64(s.Failed)
	e.FieldStart("page_locks")
	e.Int64(s.PageLocks)
	e.FieldStart("table_locks")
	e.Int64(s.TableLocks)
	e.FieldStart("elapsed_ms")
	e.Int64(s.Elapsed.Milliseconds())
	e.ObjEnd()
}

func (e *WorkloadEntrypoint) Init(_ context.Context) error {
	config, err := cfg.Load(e.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	e.cfg = config

	if e.log == nil {
		e.log = newLogger(e.cfg.Environment)
	}
	if e.Out == nil {
		e.Out = os.Stdout
	}

	e.lm = txns.NewManager(e.log)
	e.locks = txns.NewHierarchy(e.lm, e.log)
	for t := range e.cfg.Tables {
		e.locks.Table(tableID(t)).SetCapacity(e.cfg.PagesPerTable)
	}

	e.pool, err = ants.NewPool(e.cfg.Workers)
	if err != nil {
		return errors.Wrap(err, "create worker pool")
	}
	e.runID = uuid.New()

	return nil
}

func (e *WorkloadEntrypoint) Run(ctx context.Context) error {
	e.log.Infow(
		"workload started",
		"run_id", e.runID.String(),
		"workers", e.cfg.Workers,
		"transactions", e.cfg.Transactions,
	)

	start := time.Now()
	seeds := rand.New(rand.NewSource(e.seed())) //nolint:gosec

	var wg sync.WaitGroup
	for range e.cfg.Transactions {
		if ctx.Err() != nil {
			break
		}

		plan := e.plan(rand.New(rand.NewSource(seeds.Int63()))) //nolint:gosec
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			e.runTxn(ctx, plan)
		})
		if err != nil {
			wg.Done()
			return errors.Wrap(err, "submit transaction")
		}
	}
	wg.Wait()

	summary := WorkloadSummary{
		RunID:      e.runID,
		Committed:  e.stats.committed.Load(),
		Failed:     e.stats.failed.Load(),
		PageLocks:  e.stats.pageLocks.Load(),
		TableLocks: e.stats.tableLocks.Load(),
		Elapsed:    time.Since(start),
	}
	e.log.Infow(
		"workload finished",
		"run_id", e.runID.String(),
		"committed", summary.Committed,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed,
	)

	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	summary.Encode(enc)
	enc.RawStr("\n")
	if _, err := e.Out.Write(enc.Bytes()); err != nil {
		return errors.Wrap(err, "write summary")
	}

	return ctx.Err()
}

func (e *WorkloadEntrypoint) Close() error {
	if e.pool != nil {
		e.pool.Release()
	}
	return syncLogger(e.log, nil)
}

func (e *WorkloadEntrypoint) seed() int64 {
	if e.cfg.Seed != 0 {
		return e.cfg.Seed
	}
	return time.Now().UnixNano()
}

type tableAccess struct {
	table common.TableID
	mode  txns.LockType
	pages []pageAccess
	// whole is set when the transaction touches enough pages to lock the
	// table itself instead.
	whole bool
}

type pageAccess struct {
	page common.PageID
	mode txns.LockType
}

// plan picks the pages a transaction touches. Tables and pages are visited
// in ascending order and every resource is locked once, so transactions
// never wait on each other in a cycle.
func (e *WorkloadEntrypoint) plan(r *rand.Rand) []tableAccess {
	total := e.cfg.Tables * e.cfg.PagesPerTable
	slots := utils.GenerateUniqueInts(min(e.cfg.OpsPerTxn, total), 0, total-1, r)

	byTable := map[common.TableID]*tableAccess{}
	for _, slot := range slots {
		table := tableID(slot / e.cfg.PagesPerTable)
		mode := txns.LockShared
		if r.Float64() < e.cfg.WriteRatio {
			mode = txns.LockExclusive
		}

		t, ok := byTable[table]
		if !ok {
			t = &tableAccess{table: table, mode: txns.LockShared}
			byTable[table] = t
		}
		t.pages = append(t.pages, pageAccess{
			page: common.PageID(slot % e.cfg.PagesPerTable), //nolint:gosec
			mode: mode,
		})
		if mode == txns.LockExclusive {
			t.mode = txns.LockExclusive
		}
	}

	res := make([]tableAccess, 0, len(byTable))
	for _, t := range byTable {
		slices.SortFunc(t.pages, func(a, b pageAccess) int { return cmp.Compare(a.page, b.page) })
		saturation := float64(len(t.pages)) / float64(e.cfg.PagesPerTable)
		t.whole = saturation >= e.cfg.EscalationThreshold
		res = append(res, *t)
	}
	slices.SortFunc(res, func(a, b tableAccess) int { return cmp.Compare(a.table, b.table) })

	return res
}

func (e *WorkloadEntrypoint) runTxn(ctx context.Context, plan []tableAccess) {
	txnID := e.ids.Next()
	ctx = txns.WithTxn(ctx, txnID)
	// strict 2PL: everything is released at commit
	defer e.locks.ReleaseAll(txnID)

	if err := e.execute(ctx, plan); err != nil {
		e.stats.failed.Add(1)
		e.log.Warnw("transaction failed", "txn", txnID, "error", err)
		return
	}
	e.stats.committed.Add(1)
}

func (e *WorkloadEntrypoint) execute(ctx context.Context, plan []tableAccess) error {
	for _, t := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}

		table := e.locks.Table(t.table)
		if t.whole {
			if err := txns.EnsureSufficientLockHeld(ctx, table, t.mode); err != nil {
				return errors.Wrapf(err, "lock table %d", t.table)
			}
			e.stats.tableLocks.Add(1)
			continue
		}

		for _, p := range t.pages {
			page := e.locks.Page(common.PageIdentity{TableID: t.table, PageID: p.page})
			if err := txns.EnsureSufficientLockHeld(ctx, page, p.mode); err != nil {
				return errors.Wrapf(err, "lock page %d of table %d", p.page, t.table)
			}
			e.stats.pageLocks.Add(1)
		}
	}
	return nil
}

func tableID(i int) common.TableID {
	return common.TableID(utils.Must(safeUint64(i)))
}

func safeUint64(i int) (uint64, error) {
	if i < 0 {
		return 0, errors.Errorf("negative id %d", i)
	}
	return uint64(i), nil
}
