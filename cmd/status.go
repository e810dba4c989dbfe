package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"

	"resolvd/internal/config"
)

// StatusOptions contains options for the status command
type StatusOptions struct {
	ConfigFile string
}

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	opts := &StatusOptions{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Inspect resolver configuration state",
		Long:  `Show the configured backend, who owns the system resolver file and whether a local caching resolver is answering.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file path")

	return cmd
}

func runStatus(opts *StatusOptions) error {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	fmt.Println("🔍 resolvd Status")
	fmt.Println("=================")

	fmt.Println("\n⚙️  Configuration:")
	mode := cfg.DNS.Mode
	if mode == "" {
		mode = "default"
	}
	fmt.Printf("   dns mode:     %s\n", mode)
	rcMgr := cfg.DNS.RcManager
	if rcMgr == "" {
		rcMgr = "(platform default)"
	}
	fmt.Printf("   rc manager:   %s\n", rcMgr)
	if cfg.DNS.Global != nil {
		fmt.Println("   global DNS override is active")
	}

	fmt.Println("\n📄 Resolver file:")
	path := cfg.DNS.ResolvConfPath
	if target, err := os.Readlink(path); err == nil {
		fmt.Printf("✅ %s is a symlink -> %s\n", path, target)
	} else if _, err := os.Stat(path); err == nil {
		fmt.Printf("✅ %s is a regular file\n", path)
	} else {
		fmt.Printf("❌ %s does not exist\n", path)
	}

	fmt.Println("\n🌐 Local caching resolver:")
	if testLocalResolver() {
		fmt.Println("✅ a resolver on 127.0.0.1 is answering queries")
	} else {
		fmt.Println("❌ nothing answering on 127.0.0.1:53")
	}

	return nil
}

func testLocalResolver() bool {
	c := new(dns.Client)
	c.Timeout = 2 * time.Second

	m := new(dns.Msg)
	m.SetQuestion("localhost.", dns.TypeA)

	_, _, err := c.Exchange(m, "127.0.0.1:53")
	return err == nil
}
