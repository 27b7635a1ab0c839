// xdao-labelerd serves the signed label log over HTTP (xrpc, emission,
// review) and optionally gRPC.
//
// Usage:
//
//	xdao-labelerd serve [--config <file>] [--port <n>] [--grpc-listen <addr>]
//	xdao-labelerd config show [--config <file>]
//	xdao-labelerd backends
//	xdao-labelerd version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
