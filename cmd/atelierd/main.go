package main

import (
	"context"
	"fmt"
	"os"

	"atelier/internal/config"
	"atelier/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "atelierd: load config: %v\n", err)
		os.Exit(1)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		fmt.Fprintf(os.Stderr, "atelierd: %v\n", err)
		os.Exit(1)
	}
}
