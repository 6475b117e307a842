package main

import (
	"fmt"

	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/spf13/cobra"
)

func newCreateAliasCmd(c *cli) *cobra.Command {
	var (
		cluster  string
		value    string
		generate bool
	)

	cmd := &cobra.Command{
		Use:   "create-alias NAME",
		Short: "Create or replace an alias in a cluster credential store",
		Long: `Store a secret under NAME in the credential store of a cluster.

The value comes from --value, is generated with --generate, or is read twice
from the terminal. An existing alias with the same name is replaced. The
cluster's credential store is created if it does not exist.`,
		Example: `  gatekeeper create-alias db-password --value s3cr3t --cluster prod
  gatekeeper create-alias session-key --generate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if generate && cmd.Flags().Changed("value") {
				return fmt.Errorf("--value and --generate cannot be used together")
			}

			var secret []byte
			if !generate {
				if cmd.Flags().Changed("value") {
					secret = []byte(value)
				} else {
					var err error
					if secret, err = newPrompter(cmd).readNewSecret("alias value"); err != nil {
						return err
					}
				}
			}

			svcs, err := c.startServices()
			if err != nil {
				return err
			}
			defer svcs.Stop()

			if generate {
				if _, err := svcs.Aliases().GenerateAlias(cluster, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s has been successfully generated.\n", name)
				return nil
			}

			if err := svcs.Aliases().AddAlias(cluster, name, secret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s has been successfully created.\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&cluster, "cluster", types.GatewayCluster, "Cluster whose credential store holds the alias")
	cmd.Flags().StringVar(&value, "value", "", "Alias value")
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a random value")
	return cmd
}

func newDeleteAliasCmd(c *cli) *cobra.Command {
	var cluster string

	cmd := &cobra.Command{
		Use:   "delete-alias NAME",
		Short: "Delete an alias from a cluster credential store",
		Long: `Delete NAME from the credential store of a cluster. Deleting an alias that
does not exist only logs a warning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			svcs, err := c.startServices()
			if err != nil {
				return err
			}
			defer svcs.Stop()

			if err := svcs.Aliases().RemoveAlias(cluster, name); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s has been successfully deleted.\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&cluster, "cluster", types.GatewayCluster, "Cluster whose credential store holds the alias")
	return cmd
}

func newListAliasCmd(c *cli) *cobra.Command {
	var cluster string

	cmd := &cobra.Command{
		Use:   "list-alias",
		Short: "List the aliases of a cluster credential store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := c.startServices()
			if err != nil {
				return err
			}
			defer svcs.Stop()

			names, err := svcs.Aliases().ListAliases(cluster)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Listing aliases for: %s\n", types.ResolveCluster(cluster))
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			fmt.Fprintf(out, "\n%d items.\n", len(names))
			return nil
		},
	}

	cmd.Flags().StringVar(&cluster, "cluster", types.GatewayCluster, "Cluster whose credential store is listed")
	return cmd
}
