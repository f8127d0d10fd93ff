package cli

import (
	"github.com/spf13/cobra"
)

func newProbeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Print the raw rate API response for the configured request",
		Long: "Issues the same request as a normal run and prints the status and " +
			"body without interpreting them. Useful when the provider rejects a key.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipDeliveryAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.app.Probe(cmd.Context())
		},
	}
}
