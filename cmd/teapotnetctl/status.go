package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teapotnet/teapotnet/pkg/config"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the configuration and contacts this node would load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cf, err := readContactFile(contactsPath)
			if err != nil {
				return err
			}

			fmt.Printf("config:   %s\n", configPath)
			fmt.Printf("  port            %d\n", cfg.Port)
			fmt.Printf("  tracker         %s:%d\n", cfg.Tracker, cfg.TrackerPort)
			fmt.Printf("  interface_port  %d\n", cfg.InterfacePort)
			fmt.Printf("  external_addr   %s\n", cfg.ExternalAddress)
			fmt.Printf("  profiles_dir    %s\n", cfg.ProfilesDir)
			fmt.Printf("contacts: %s\n", contactsPath)
			if len(cf.Contacts) == 0 {
				fmt.Println("  (none)")
				return nil
			}
			for _, c := range cf.Contacts {
				localPeering, remotePeering := derivedPeerings(c)
				label := fmt.Sprintf("%s/%s", c.LocalUser, c.RemoteUser)
				if useColor() {
					label = colorOK(label)
				}
				fmt.Printf("  %-24s local=%s remote=%s\n", label, localPeering, remotePeering)
			}
			return nil
		},
	}
}
