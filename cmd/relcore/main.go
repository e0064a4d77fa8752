package main

import (
	"context"

	"github.com/Blackdeer1524/relcore/cmd/relcore/app"
)

func main() {
	app.MustExecute(context.Background())
}
