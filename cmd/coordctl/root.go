package main

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-coord/pkg/config"
	coordtls "github.com/dd0wney/cluso-coord/pkg/tls"
)

const envOpsToken = "COORD_OPS_TOKEN"

// options are the global flags
type options struct {
	addr       string
	configPath string
	output     string
	timeout    time.Duration
	token      string
	caFile     string

	rootCAs *x509.CertPool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "coordctl",
		Short: "Operate a cluster coordination service",
		Long: `coordctl talks to the ops API of a running coordd node, or directly to the
shared store for maintenance that must work while no node is running.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case "table", "json":
			default:
				return fmt.Errorf("unknown output format %q", opts.output)
			}
			if opts.caFile != "" {
				pool, err := coordtls.LoadCAPool(opts.caFile)
				if err != nil {
					return err
				}
				opts.rootCAs = pool
			}
			return nil
		},
	}

	defaultAddr := "127.0.0.1:9470"
	if v, ok := os.LookupEnv(config.EnvOpsListen); ok {
		defaultAddr = v
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.addr, "addr", "a", defaultAddr, "Ops API address of a coordd node")
	flags.StringVarP(&opts.configPath, "config", "c", "", "coordd config file, used for direct store access")
	flags.StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	flags.StringVar(&opts.token, "token", os.Getenv(envOpsToken), "Bearer token for the ops API (env "+envOpsToken+")")
	flags.StringVar(&opts.caFile, "ca-file", "", "CA certificate that signed the ops listener certificate")

	rootCmd.AddCommand(
		newNodeCmd(opts),
		newNodesCmd(opts),
		newStateCmd(opts),
		newPropertiesCmd(opts),
		newRefetchCmd(opts),
		newLogCmd(opts),
		newResetCmd(opts),
		newTokenCmd(opts),
		newCertCmd(),
	)
	return rootCmd
}

// printJSON writes v indented
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table writes aligned columns; the first row is the header
func table(w io.Writer, rows [][]any) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cell)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
