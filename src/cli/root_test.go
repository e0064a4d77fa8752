package cli

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestRootCommandSharesConfigFlag(t *testing.T) {
	root := Init("relcore", "test binary")

	var seen string
	root.AddCommand(&cobra.Command{
		Use: "workload",
		RunE: func(*cobra.Command, []string) error {
			seen = root.Options.ConfigPath + "|" + root.Options.DataDir
			return nil
		},
	})

	root.SetArgs([]string{"workload", "-c", "/etc/relcore.env", "--data-dir", "/srv/rel"})
	require.NoError(t, root.Execute(context.Background()))
	require.Equal(t, "/etc/relcore.env|/srv/rel", seen)
}

func TestRootCommandPassesContext(t *testing.T) {
	root := Init("relcore", "test binary")

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "run")
	root.AddCommand(&cobra.Command{
		Use: "join",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Context().Value(key{}) != "run" {
				return errors.New("context was not propagated")
			}
			return errors.New("join failed")
		},
	})

	root.SetArgs([]string{"join"})
	require.ErrorContains(t, root.Execute(ctx), "join failed")
}
