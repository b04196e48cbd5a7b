// Command algo-scope captures from oscilloscope devices, runs the transform
// pipeline and streams the plots over WebSocket.
//
// Usage:
//
//	algo-scope run [--config file] [--listen addr] [--record markers.parquet]
//	algo-scope config
//	algo-scope wininfo [--size n] [window-name ...]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
