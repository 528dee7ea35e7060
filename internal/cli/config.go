package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tollgate/pkg/core"
)

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration after defaults, the config file and TOLLGATE_*
environment overrides are applied. API keys are masked and secrets omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *opts.cfg
			cfg.Keys = maskKeys(cfg.Keys)

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(&cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func maskKeys(keys []core.Credentials) []core.Credentials {
	out := make([]core.Credentials, len(keys))
	for i, k := range keys {
		out[i] = core.Credentials{ID: k.ID, APIKey: mask(k.APIKey)}
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
