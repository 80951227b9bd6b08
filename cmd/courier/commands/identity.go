package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"courier/internal/crypto"
	"courier/internal/services/identity"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys, store them securely and publish the agreement key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := identity.CheckPassphrase(passphrase); err != nil {
				return err
			}
			id, fp, err := wire.Identity.GenerateIdentity()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nIdentity: %s\nFingerprint: %s\n", id.ID(), fp)

			if _, err := wire.Identity.PublishAgreementKey(cmd.Context()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: agreement key not published (%v); run publish-key later\n", err)
			}
			return nil
		},
	}
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the identity and its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := wire.Identity.LoadIdentity()
			if err != nil {
				return err
			}
			fp, err := wire.Identity.FingerprintIdentity()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity: %s\nFingerprint: %s\n", id.ID(), fp)
			return nil
		},
	}
}

func publishKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish-key",
		Short: "Sign and upload the agreement public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := wire.Identity.PublishAgreementKey(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published agreement key %s\n", crypto.KeyPrefix(pub.Slice()))
			return nil
		},
	}
}
