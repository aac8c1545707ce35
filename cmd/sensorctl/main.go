// Command sensorctl runs dashboard operations from a terminal.
//
//	sensorctl analyze --streams "Sensor 1,Sensor 2,Sensor 3" --start 08:00 --end 09:00 --correlation 0.8 --export all --out ./exports
//	sensorctl watch --adapter random --interval 2s --ticks 25 --out ./exports
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
