package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/spf13/cobra"
)

func newCreateCertCmd(c *cli) *cobra.Command {
	var hostname string

	cmd := &cobra.Command{
		Use:   "create-cert",
		Short: "Create the self-signed gateway identity certificate",
		Long: `Create a self-signed certificate for the gateway TLS identity, replacing
any existing one.

The certificate is bound to --hostname, or to the local host name when it is
not given. Its private key is protected by the gateway-identity-passphrase
alias of the __gateway credential store, which is generated on first use.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := c.startServices()
			if err != nil {
				return err
			}
			defer svcs.Stop()

			cert, err := svcs.CreateGatewayIdentity(hostname)
			if err != nil {
				return err
			}

			info := security.GetCertInfo(types.GatewayIdentityAlias, cert)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Certificate %s has been successfully created.\n", info.Alias)
			fmt.Fprintf(out, "  Subject: %s\n", info.Subject)
			fmt.Fprintf(out, "  Names: %s\n", strings.Join(info.DNSNames, ", "))
			fmt.Fprintf(out, "  Key usage: %s\n", strings.Join(security.DescribeKeyUsage(cert.KeyUsage), ", "))
			fmt.Fprintf(out, "  Expires: %s\n", info.NotAfter.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&hostname, "hostname", "", "Hostname the certificate is issued for (default: local host name)")
	return cmd
}

func newExportCertCmd(c *cli) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export-cert",
		Short: "Export the gateway identity certificate as PEM",
		Long: `Write the public certificate of the gateway identity in PEM form, for
clients that need to trust the self-signed gateway. The private key is never
exported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := c.startServices()
			if err != nil {
				return err
			}
			defer svcs.Stop()

			cert, err := svcs.Keystore().GatewayCertificate(types.GatewayIdentityAlias)
			if err != nil {
				return err
			}

			if output == "" {
				output = filepath.Join(c.cfg.KeystoreDir(), types.GatewayIdentityAlias+".pem")
			}
			if err := os.WriteFile(output, security.EncodeCertPEM(cert), 0o644); err != nil {
				return fmt.Errorf("failed to write certificate: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Certificate %s has been successfully exported to: %s\n", types.GatewayIdentityAlias, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default <keystore dir>/gateway-identity.pem)")
	return cmd
}
