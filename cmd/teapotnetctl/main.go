// Command teapotnetctl is the operator CLI for a TeapotNet node: it edits
// the node's contacts file and publishes to its tracker, without needing the
// daemon itself to expose a control RPC.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/teapotnet/teapotnet/pkg/version"
)

var (
	contactsPath string
	configPath   string

	colorOK = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorNG = color.New(color.FgRed, color.Bold).SprintFunc()
)

func useColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func main() {
	root := &cobra.Command{
		Use:     "teapotnetctl",
		Short:   "Operate a TeapotNet node's contacts and tracker presence",
		Version: version.String(),
	}
	root.PersistentFlags().StringVar(&contactsPath, "contacts", "contacts.yaml", "path to the contacts file")
	root.PersistentFlags().StringVar(&configPath, "config", "teapotnet.conf", "path to the node configuration file")

	root.AddCommand(newPeerCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newPublishCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newPeerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Manage this node's contacts (peerings)",
	}
	cmd.AddCommand(newPeerAddCmd(), newPeerRemoveCmd(), newPeerListCmd())
	return cmd
}
