package main

import (
	"fmt"
	"os"

	"resolvd/cmd"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	var rootCmd = &cobra.Command{
		Use:   "resolvd",
		Short: "System resolver configuration coordinator",
		Long: `resolvd aggregates DNS configuration contributed by network
interfaces and VPN tunnels, merges it under defined precedence rules
and commits the result to the system resolver configuration through a
pluggable backend.`,
	}

	rootCmd.AddCommand(
		cmd.NewRunCmd(),
		cmd.NewStatusCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("resolvd v%s\n", version)
		},
	}
}
