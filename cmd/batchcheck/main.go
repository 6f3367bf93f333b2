package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/felborne/voucher-gateway/internal/bsde"
)

func main() {
	path := flag.String("batch", "", "path to a wire-format batch file (required)")
	stripPrefix := flag.Bool("strip-prefix", false, fmt.Sprintf("strip the %d-byte zkVM host prefix before processing", bsde.HostPrefixSize))
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "batchcheck: -batch is required")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchcheck: read %s: %v\n", *path, err)
		os.Exit(1)
	}

	var deltas []bsde.StateDelta
	if *stripPrefix {
		deltas, err = bsde.ProcessEntry(raw)
	} else {
		deltas, err = bsde.Process(raw)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchcheck: %v\n", err)
		os.Exit(1)
	}

	for i, d := range deltas {
		role := "recipient"
		if d.IsSender {
			role = "sender"
		}
		fmt.Printf("slot %d: addr=%s role=%-9s nonce=[%d,%d] delta=%d\n",
			i, d.Addr.Hex(), role, d.StartNonce, d.EndNonce, d.Delta)
	}
}
