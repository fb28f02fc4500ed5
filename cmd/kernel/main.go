package main

import (
	"context"

	"github.com/Blackdeer1524/GraphKernel/cmd/kernel/app"
)

func main() {
	app.MustExecute(context.Background())
}
