package main

import (
	"github.com/mirsubmit/backend/internal/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Fatal("command failed", "error", err)
	}
}
