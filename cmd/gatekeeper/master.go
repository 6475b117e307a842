package main

import (
	"fmt"

	"github.com/cuemby/gatekeeper/pkg/security"
	"github.com/cuemby/gatekeeper/pkg/services"
	"github.com/spf13/cobra"
)

func newCreateMasterCmd(c *cli) *cobra.Command {
	var (
		force bool
		value string
	)

	cmd := &cobra.Command{
		Use:   "create-master",
		Short: "Create the master secret",
		Long: `Create the master secret that protects every keystore of the gateway.

The secret is read twice from the terminal without echo and persisted,
encrypted, under <home>/data/security/master. An existing master secret is
only replaced with --force; keystores created under the old secret can no
longer be opened afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var secret []byte
			if value != "" {
				secret = []byte(value)
			} else {
				var err error
				if secret, err = newPrompter(cmd).readNewSecret("master secret"); err != nil {
					return err
				}
			}
			defer security.Wipe(secret)

			store := services.NewMasterStore(c.cfg, nil, nil, nil)
			if err := store.Persist(secret, force); err != nil {
				return err
			}
			if err := store.Stop(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Master secret has been persisted to disk.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing master secret")
	cmd.Flags().StringVar(&value, "value", "", "Master secret value (non-interactive use)")
	return cmd
}
