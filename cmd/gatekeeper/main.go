package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cuemby/gatekeeper/pkg/config"
	"github.com/cuemby/gatekeeper/pkg/log"
	"github.com/cuemby/gatekeeper/pkg/secure"
	"github.com/cuemby/gatekeeper/pkg/services"
	"github.com/cuemby/gatekeeper/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	code := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	secure.Purge()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if hint := hintFor(err); hint != "" {
			fmt.Fprintf(stderr, "Hint: %s\n", hint)
		}
		return 1
	}
	return 0
}

// cli holds the global flags and the configuration resolved from them
type cli struct {
	home       string
	configPath string
	master     string
	logLevel   string
	jsonLogs   bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "gatekeeper",
		Short: "Gatekeeper - credential protection for the API gateway",
		Long: `Gatekeeper manages the secrets of the API gateway: the master secret,
the gateway TLS identity and the per-cluster credential stores.

All state lives under the gateway home (--home, $GATEKEEPER_HOME or
~/.gatekeeper).`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.SetVersionTemplate(fmt.Sprintf(
		"Gatekeeper version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := root.PersistentFlags()
	flags.StringVar(&c.home, "home", "", "Gateway home directory (default $GATEKEEPER_HOME or ~/.gatekeeper)")
	flags.StringVar(&c.configPath, "config", "", "Configuration file (default <home>/conf/gatekeeper.yaml)")
	flags.StringVar(&c.master, "master", "", "Master secret to use instead of the persisted one (testing only)")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&c.jsonLogs, "json-logs", false, "Write logs as JSON")

	root.AddCommand(newCreateMasterCmd(c))
	root.AddCommand(newCreateCertCmd(c))
	root.AddCommand(newExportCertCmd(c))
	root.AddCommand(newCreateAliasCmd(c))
	root.AddCommand(newDeleteAliasCmd(c))
	root.AddCommand(newListAliasCmd(c))
	root.AddCommand(newStartCmd(c))

	return root
}

// setup loads the configuration and initializes logging
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	home := c.home
	if home == "" {
		var err error
		if home, err = config.DefaultHome(); err != nil {
			return err
		}
	}

	cfg, err := config.Load(home, c.configPath)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if c.logLevel != "" {
		level = c.logLevel
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(level),
		JSONOutput: c.jsonLogs || cfg.Log.JSON,
		Output:     cmd.ErrOrStderr(),
	})

	c.cfg = cfg
	return nil
}

// startServices runs the full service chain, as every administrative
// operation does before touching keystore state
func (c *cli) startServices() (*services.Services, error) {
	opts := services.Options{Config: c.cfg}
	if c.master != "" {
		opts.MasterOverride = []byte(c.master)
	}

	svcs := services.New(opts)
	if err := svcs.Init(); err != nil {
		return nil, err
	}
	if err := svcs.Start(); err != nil {
		return nil, err
	}
	return svcs, nil
}

// hintFor returns operator guidance for the error kinds a CLI user can fix
func hintFor(err error) string {
	switch types.KindOf(err) {
	case types.KindMasterSecretUnavailable:
		return "run 'gatekeeper create-master' first, or check the master protection settings"
	case types.KindKeystoreUnlock:
		return "the master secret does not match the one the keystores were created with"
	case types.KindCredentialStoreNotFound:
		return "nothing has been stored for this cluster yet"
	default:
		return ""
	}
}
