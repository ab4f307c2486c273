package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acmed/acmed/internal/tlsalpn"
)

// newTLSALPNRespondCommand builds the subcommand a certificate's
// challenge-tls-alpn-01 hook is configured to invoke: it is handed the
// same Identifier/Proof values any other hook receives (templated into
// --name/--proof by the hook's configured args) and blocks, serving the
// tls-alpn-01 validation certificate, until the CA's probe connects or
// the hook's own timeout kills it. internal/tlsalpn is otherwise never
// imported outside this file, matching spec.md's "companion... included
// only by its interface to the core".
func newTLSALPNRespondCommand() *cobra.Command {
	var name, proof, addr string

	cmd := &cobra.Command{
		Use:           "tlsalpn-respond",
		Short:         "Serve a single tls-alpn-01 validation certificate",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := tlsalpn.ParseProof(proof)
			if err != nil {
				return fmt.Errorf("parsing proof: %w", err)
			}
			cert, err := tlsalpn.Certificate(name, digest)
			if err != nil {
				return err
			}
			return tlsalpn.Serve(cmd.Context(), addr, cert)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&name, "name", "", "TLS-ALPN name to present (the identifier's DNS name or reverse-DNS form)")
	flags.StringVar(&proof, "proof", "", "acme-identifier extension proof string from the challenge hook")
	flags.StringVar(&addr, "addr", ":443", "address to listen on for the validation connection")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("proof")

	return cmd
}
