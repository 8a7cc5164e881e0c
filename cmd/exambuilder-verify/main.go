// exambuilder-verify drives a real browser through ExamBuilder workflows and
// reports which ones broke.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuitang/exambuilder-verify/internal/cli"
	"github.com/kuitang/exambuilder-verify/internal/obs"
)

func main() {
	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
