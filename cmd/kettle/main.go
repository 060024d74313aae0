// Package main provides the kettle server binary.
package main

import (
	"os"

	"github.com/sirosfoundation/kettle/cmd/kettle/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
