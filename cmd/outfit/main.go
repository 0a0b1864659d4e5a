// Package main provides the entry point for the outfit installer CLI.
package main

import (
	"os"
)

func main() {
	os.Exit(Execute())
}
