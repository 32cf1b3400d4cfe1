package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	identitycmd "github.com/Natural-Highs/live-sub000/internal/cmd/identity"
	entrypoint "github.com/Natural-Highs/live-sub000/internal/platform/cmd"
	"github.com/golang/glog"
)

func main() {
	cfg, err := identitycmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		entrypoint.Exit(entrypoint.ServiceIdentity, err)
	}
	defer glog.Flush()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := identitycmd.Run(ctx, cfg); err != nil {
		entrypoint.Exit(entrypoint.ServiceIdentity, err)
	}
}
