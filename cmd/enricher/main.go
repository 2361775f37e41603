// Command enricher searches for news articles, downloads them, removes
// duplicates and has a language model extract structured columns from each.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/FranksOps/enricher/internal/pipeline"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ce *pipeline.ConfigError
		if errors.As(err, &ce) {
			os.Exit(exitConfig)
		}
		os.Exit(exitFailed)
	}
	os.Exit(exitOK)
}
