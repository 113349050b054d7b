// Command gymsub tracks substitution days owed between gym trainers.
package main

import (
	"context"
	"os"

	"github.com/gymsub/gymsub/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
