package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/xkilldash9x/worklog-cli/cmd"
	"github.com/xkilldash9x/worklog-cli/internal/observability"
	"go.uber.org/zap"
)

const panicLogFile = "panic.log"

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		os.Exit(1)
	}
}

// handlePanic records an unrecovered panic with its stack before exiting.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	stack := debug.Stack()
	report := fmt.Sprintf("%s panic: %v\n\n%s", time.Now().Format(time.RFC3339), r, stack)
	if err := os.WriteFile(panicLogFile, []byte(report), 0o600); err != nil {
		fmt.Fprintln(os.Stderr, "could not write panic log:", err)
	}
	observability.GetLogger().Error("Unrecovered panic.", zap.Any("panic", r), zap.ByteString("stack", stack))
	observability.Sync()
	fmt.Fprintf(os.Stderr, "worklog-cli crashed: %v (details in %s)\n", r, panicLogFile)
	os.Exit(2)
}
