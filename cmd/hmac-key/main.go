// Package main prints a fresh event chain HMAC key as environment lines.
package main

import (
	"flag"
	"os"

	"github.com/kilnline/ledger/internal/platform/config"
	"github.com/kilnline/ledger/internal/tools/hmackey"
)

func main() {
	cfg, err := hmackey.ParseConfig(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		config.Exitf("%v", err)
	}
	if err := hmackey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
