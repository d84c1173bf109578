package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-coord/pkg/auth"
	"github.com/dd0wney/cluso-coord/pkg/config"
	coordtls "github.com/dd0wney/cluso-coord/pkg/tls"
)

var errNoAuthSecret = errors.New("config has no ops.auth_secret; tokens are not enabled")

func newTokenCmd(opts *options) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an ops API token from the secret in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.Ops.AuthSecret == "" {
				return errNoAuthSecret
			}
			jwtManager, err := auth.NewJWTManager(cfg.Ops.AuthSecret, cfg.Ops.TokenTTL)
			if err != nil {
				return err
			}
			token, err := jwtManager.GenerateToken(subject, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "coordctl", "Token subject, logged by the node")
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "Role: viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from ops.token_ttl)")
	return cmd
}

func newCertCmd() *cobra.Command {
	cfg := coordtls.DefaultConfig()
	var certFile, keyFile string

	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Generate a self-signed certificate for the ops listener",
		Long: `Generates an ECDSA certificate and key. Point ops.tls.cert_file and
ops.tls.key_file at the output, and pass the certificate to --ca-file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := coordtls.GenerateAndSaveCertificate(cfg, certFile, keyFile); err != nil {
				return err
			}
			info, err := coordtls.GetCertificateInfo(certFile)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s for %v, valid until %s\n",
				certFile, keyFile, info.DNSNames, info.NotAfter.Format(time.RFC3339))
			return err
		},
	}
	cmd.Flags().StringVar(&certFile, "cert-file", "coordd.crt", "Certificate output path")
	cmd.Flags().StringVar(&keyFile, "key-file", "coordd.key", "Private key output path")
	cmd.Flags().StringSliceVar(&cfg.Hosts, "host", cfg.Hosts, "Hostname or IP the certificate is valid for (repeatable)")
	cmd.Flags().DurationVar(&cfg.ValidFor, "valid-for", cfg.ValidFor, "Certificate lifetime")
	return cmd
}
