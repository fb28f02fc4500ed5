package app

import (
	"context"

	"github.com/Blackdeer1524/GraphKernel/src/cli"
)

var rootCmd = cli.Init("kernel")

func MustExecute(ctx context.Context) {
	initStart()
	rootCmd.MustExecute(ctx)
}
