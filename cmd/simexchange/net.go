package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/efreitasn/simexchange/internal/settlement"
)

const (
	stageFlagName = "stage"
	fileFlagName  = "file"
)

func init() {
	rootCmd.AddCommand(netCmd)
	netCmd.Flags().String(fileFlagName, "", "JSON file with an array of edges (default: stdin)")
	netCmd.Flags().String(stageFlagName, "netted", "Reduction to apply: normalized,netted")
}

// netCmd reduces a JSON edge list offline and prints the result.
var netCmd = &cobra.Command{
	Use:   "net",
	Short: "Net a JSON list of settlement obligations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cmd.Flags().GetString(fileFlagName)
		if err != nil {
			return err
		}
		stage, err := cmd.Flags().GetString(stageFlagName)
		if err != nil {
			return err
		}

		var in io.Reader = cmd.InOrStdin()
		if path != "" {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		var edges []settlement.Edge
		if err := json.NewDecoder(in).Decode(&edges); err != nil {
			return fmt.Errorf("decode edges: %w", err)
		}

		var out []settlement.Edge
		switch stage {
		case "normalized":
			out, err = settlement.Normalize(edges)
		case "netted":
			out, err = settlement.Net(edges)
		default:
			return fmt.Errorf("%s flag must be either %q or %q", stageFlagName, "normalized", "netted")
		}
		if err != nil {
			return err
		}
		if out == nil {
			out = []settlement.Edge{}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
