package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teapotnet/teapotnet/pkg/crypto"
)

func newPeerAddCmd() *cobra.Command {
	var secretHex string
	cmd := &cobra.Command{
		Use:   "add <local-user> <remote-user>",
		Short: "Add a contact to the address book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localUser, remoteUser := args[0], args[1]

			if secretHex == "" {
				secret := make([]byte, 32)
				if _, err := rand.Read(secret); err != nil {
					return fmt.Errorf("generating secret: %w", err)
				}
				secretHex = hex.EncodeToString(secret)
			} else if _, err := hex.DecodeString(secretHex); err != nil {
				return fmt.Errorf("secret must be hex: %w", err)
			}

			cf, err := readContactFile(contactsPath)
			if err != nil {
				return err
			}
			for _, c := range cf.Contacts {
				if c.LocalUser == localUser && c.RemoteUser == remoteUser {
					return fmt.Errorf("contact %s/%s already exists", localUser, remoteUser)
				}
			}
			cf.Contacts = append(cf.Contacts, contactEntry{
				LocalUser:  localUser,
				RemoteUser: remoteUser,
				SecretHex:  secretHex,
			})
			if err := writeContactFile(contactsPath, cf); err != nil {
				return err
			}

			fmt.Printf("added contact %s/%s\n", localUser, remoteUser)
			fmt.Printf("shared secret (give this to %s out of band): %s\n", remoteUser, secretHex)
			return nil
		},
	}
	cmd.Flags().StringVar(&secretHex, "secret", "", "shared secret as hex (generated if omitted)")
	return cmd
}

func newPeerRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <local-user> <remote-user>",
		Short: "Remove a contact from the address book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localUser, remoteUser := args[0], args[1]

			cf, err := readContactFile(contactsPath)
			if err != nil {
				return err
			}
			kept := cf.Contacts[:0]
			found := false
			for _, c := range cf.Contacts {
				if c.LocalUser == localUser && c.RemoteUser == remoteUser {
					found = true
					continue
				}
				kept = append(kept, c)
			}
			if !found {
				return fmt.Errorf("no such contact %s/%s", localUser, remoteUser)
			}
			cf.Contacts = kept
			if err := writeContactFile(contactsPath, cf); err != nil {
				return err
			}
			fmt.Printf("removed contact %s/%s\n", localUser, remoteUser)
			return nil
		},
	}
}

func newPeerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contacts in the address book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cf, err := readContactFile(contactsPath)
			if err != nil {
				return err
			}
			if len(cf.Contacts) == 0 {
				fmt.Println("no contacts")
				return nil
			}
			for _, c := range cf.Contacts {
				localPeering, remotePeering := derivedPeerings(c)
				fmt.Printf("%-20s %-20s local=%s remote=%s\n",
					c.LocalUser, c.RemoteUser, localPeering, remotePeering)
			}
			return nil
		},
	}
}

// derivedPeerings returns the first 16 hex characters of the local/remote
// peering ids the daemon would derive from this contact's secret, useful
// for cross-checking against tracker queries without starting the daemon.
func derivedPeerings(c contactEntry) (string, string) {
	secret, err := hex.DecodeString(c.SecretHex)
	if err != nil {
		return "<invalid secret>", "<invalid secret>"
	}
	localDigest := crypto.DerivePeering(secret, c.LocalUser, c.RemoteUser)
	remoteDigest := crypto.DerivePeering(secret, c.RemoteUser, c.LocalUser)
	return hex.EncodeToString(localDigest)[:16], hex.EncodeToString(remoteDigest)[:16]
}
