package app

import (
	"context"

	"github.com/Blackdeer1524/relcore/src/cli"
)

var rootCmd = cli.Init("relcore", "Multigranularity locking and sort-merge join toolkit")

func MustExecute(ctx context.Context) {
	initWorkload()
	initJoin()
	rootCmd.MustExecute(ctx)
}
