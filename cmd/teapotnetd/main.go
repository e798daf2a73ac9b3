// Command teapotnetd runs the TeapotNet session core as a standalone
// daemon: it loads the node's configuration and contact list, opens the
// peer session listener, and publishes this node's addresses to its
// configured trackers.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/teapotnet/teapotnet/pkg/version"
)

var (
	configPath   string
	contactsPath string
	logLevel     string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "teapotnetd",
		Short:   "Run the TeapotNet peer session daemon",
		Version: version.String(),
		RunE:    runDaemon,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			log.SetLevel(level)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "teapotnet.conf", "path to the node configuration file")
	flags.StringVar(&contactsPath, "contacts", "contacts.yaml", "path to the contacts (peerings) file")
	flags.StringVar(&logLevel, "log-level", log.InfoLevel.String(), "log level: panic, fatal, error, warn, info, debug, trace")

	return root
}
