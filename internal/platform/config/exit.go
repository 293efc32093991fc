package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// Exitf prints a message prefixed with the program name to stderr and exits
// with status 1. Command mains use it for startup failures.
func Exitf(format string, args ...any) {
	fmt.Fprintf(stderr, "%s: %s\n", filepath.Base(os.Args[0]), fmt.Sprintf(format, args...))
	exit(1)
}
