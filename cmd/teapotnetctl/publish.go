package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teapotnet/teapotnet/pkg/config"
	"github.com/teapotnet/teapotnet/pkg/crypto"
	"github.com/teapotnet/teapotnet/pkg/identifier"
	"github.com/teapotnet/teapotnet/pkg/tracker"
)

// newPublishCmd republishes every contact's local peering id to the
// configured tracker directly, without needing a running daemon: useful
// right after `peer add`, when the daemon's own periodic publish loop
// hasn't fired yet.
func newPublishCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish this node's contacts to the configured tracker",
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
			if len(cf.Contacts) == 0 {
				fmt.Println("no contacts to publish")
				return nil
			}
			if port == 0 {
				port = cfg.Port
			}

			client := tracker.New([]string{fmt.Sprintf("%s:%d", cfg.Tracker, cfg.TrackerPort)}, cfg.TpotTimeout)

			var failed int
			for _, c := range cf.Contacts {
				secret, err := hex.DecodeString(c.SecretHex)
				if err != nil {
					return fmt.Errorf("contact %s/%s: bad secret: %w", c.LocalUser, c.RemoteUser, err)
				}
				localDigest := crypto.DerivePeering(secret, c.LocalUser, c.RemoteUser)
				localPeering, err := identifier.New(localDigest, "")
				if err != nil {
					return fmt.Errorf("contact %s/%s: %w", c.LocalUser, c.RemoteUser, err)
				}

				label := fmt.Sprintf("%s/%s", c.LocalUser, c.RemoteUser)
				if err := client.Publish(localPeering, tracker.PublishInfo{Port: uint16(port)}); err != nil {
					failed++
					if useColor() {
						label = colorNG(label)
					}
					fmt.Printf("%-24s FAILED: %v\n", label, err)
					continue
				}
				if useColor() {
					label = colorOK(label)
				}
				fmt.Printf("%-24s published\n", label)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d contacts failed to publish", failed, len(cf.Contacts))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "port to advertise (defaults to the configured listen port)")
	return cmd
}
