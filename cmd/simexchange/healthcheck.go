package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().Duration("timeout", 3*time.Second, "Request timeout")
}

// healthcheckCmd probes a running server; the exit status is the result.
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check the health of a running server on localhost:$PORT",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return err
		}

		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}

		client := &http.Client{Timeout: timeout}
		resp, err := client.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
		}
		return nil
	},
}
