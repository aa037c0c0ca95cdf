// Command pdfruin reverses visual redactions in PDF files and reports how
// much each page's appearance changed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pdfruin: %v\n", err)
		stop()
		os.Exit(1)
	}
}
