package app

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Blackdeer1524/relcore/src"
	"github.com/Blackdeer1524/relcore/src/cfg"
	"github.com/Blackdeer1524/relcore/src/pkg/utils"
)

type Entrypoint interface {
	io.Closer
	Init(ctx context.Context) error
	Run(ctx context.Context) error
}

// Run drives e until its Run returns or the process is interrupted, and
// closes it in both cases.
func Run(ctx context.Context, e Entrypoint) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := e.Init(ctx); err != nil {
		return errors.Wrap(err, "entrypoint init error")
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer cancel()
		return e.Run(egCtx)
	})

	// graceful shutdown
	eg.Go(func() error {
		<-egCtx.Done()
		return e.Close()
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(env cfg.Environment) src.Logger {
	if env == cfg.EnvDev {
		return utils.Must(zap.NewDevelopment()).Sugar()
	}
	return utils.Must(zap.NewProduction()).Sugar()
}

// syncLogger flushes log and folds the flush error into err.
func syncLogger(log src.Logger, err error) error {
	if log == nil {
		return err
	}

	logErr := log.Sync()
	if logErr == nil || errors.Is(logErr, syscall.EINVAL) || errors.Is(logErr, syscall.ENOTTY) {
		// stdout and stderr can't be synced on most terminals
		return err
	}
	if err != nil {
		return errors.Wrapf(err, "sync logger: %v", logErr)
	}
	return logErr
}
