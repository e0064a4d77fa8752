package app

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/spf13/afero"

	"github.com/Blackdeer1524/relcore/src"
	"github.com/Blackdeer1524/relcore/src/cfg"
	"github.com/Blackdeer1524/relcore/src/query"
	"github.com/Blackdeer1524/relcore/src/storage/relation"
	"github.com/Blackdeer1524/relcore/src/txns"
)

// JoinEntrypoint joins two relations from the data directory and writes the
// result to Out as JSON lines.
type JoinEntrypoint struct {
	ConfigPath string
	// DataDir overrides the configured data directory when set.
	DataDir    string
	Left       string
	Right      string
	LeftCol    string
	RightCol   string
	Out        io.Writer
	Fs         afero.Fs

	cfg   cfg.Config
	log   src.Logger
	locks *txns.Hierarchy
	exec  *query.Executor
	ids   txns.TxnIDGenerator
}

func (e *JoinEntrypoint) Init(_ context.Context) error {
	config, err := cfg.Load(e.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	e.cfg = config
	if e.DataDir != "" {
		e.cfg.DataDir = e.DataDir
	}

	if e.log == nil {
		e.log = newLogger(e.cfg.Environment)
	}
	if e.Out == nil {
		e.Out = os.Stdout
	}
	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}

	catalog, err := relation.Open(e.cfg.DataDir, e.Fs)
	if err != nil {
		return errors.Wrapf(err, "open catalog at %s", e.cfg.DataDir)
	}
	catalog.SetScanCacheSize(e.cfg.ScanCacheSize)

	e.locks = txns.NewHierarchy(txns.NewManager(e.log), e.log)
	e.exec = query.New(catalog, e.locks, e.log)

	return nil
}

func (e *JoinEntrypoint) Run(ctx context.Context) error {
	txnID := e.ids.Next()
	ctx = txns.WithTxn(ctx, txnID)
	defer e.locks.ReleaseAll(txnID)

	res, err := e.exec.Join(ctx, e.Left, e.Right, e.LeftCol, e.RightCol)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(e.Out)
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)

	rows := 0
	for rec, err := range res.Rows.Seq() {
		if err != nil {
			return errors.Wrapf(err, "row %d", rows)
		}

		enc.Reset()
		rec.Encode(enc, res.Schema)
		enc.RawStr("\n")
		if _, err := w.Write(enc.Bytes()); err != nil {
			return errors.Wrap(err, "write row")
		}
		rows++
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "flush rows")
	}

	e.log.Infow("join finished", "txn", txnID, "left", e.Left, "right", e.Right, "rows", rows)
	return nil
}

func (e *JoinEntrypoint) Close() error {
	return syncLogger(e.log, nil)
}
