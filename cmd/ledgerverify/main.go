// Command ledgerverify checks the fingerprint chain of a memory-store
// snapshot without starting the server.
//
//	ledgerverify -snapshot data/escrow.json -deep
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	os.Exit(run(os.Args[1:], os.Stdout, logger))
}

func run(args []string, out io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("ledgerverify", flag.ContinueOnError)
	path := fs.String("snapshot", os.Getenv("SNAPSHOT_PATH"), "snapshot file to verify")
	deep := fs.Bool("deep", false, "recompute every fingerprint from entry content")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		logger.Error("no snapshot given; pass -snapshot or set SNAPSHOT_PATH")
		return 2
	}

	doc, err := store.LoadSnapshot(*path)
	if err != nil {
		logger.Error("load snapshot", "path", *path, "error", err)
		return 1
	}
	if doc == nil {
		logger.Error("snapshot does not exist", "path", *path)
		return 1
	}
	if brk := ledger.CheckChain(doc.Ledger, *deep); brk != nil {
		logger.Error("ledger chain broken", "alert", true, "sequence", brk.Sequence, "reason", brk.Reason)
		fmt.Fprintf(out, "INVALID: %v\n", brk)
		return 1
	}
	fmt.Fprintf(out, "OK: %d entries verified (deep=%t)\n", len(doc.Ledger), *deep)
	return 0
}
