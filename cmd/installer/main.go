// Copyright 2021-present The Atlas Authors. All rights reserved.
// This source code is licensed under the Apache 2.0 license found
// in the LICENSE file in the root directory of this source tree.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cjwang/nHydrate/cmd/installer/internal/cmdapi"
	_ "github.com/cjwang/nHydrate/sql/mssql"
	_ "github.com/cjwang/nHydrate/sql/mysql"
	_ "github.com/cjwang/nHydrate/sql/postgres"
	_ "github.com/cjwang/nHydrate/sql/sqlite"
)

func main() {
	ctx, stop := shutdownContext(context.Background())
	defer stop()
	cmdapi.Root.SetOut(os.Stdout)
	cmdapi.Root.SetArgs(cmdapi.LegacyArgs(os.Args[1:]))
	if err := cmdapi.Root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// shutdownContext returns a context that is canceled on SIGINT or SIGTERM,
// so a run stops at the next step and rolls back its open transaction.
// SIGKILL cannot be trapped.
func shutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
