package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rhythm/config"
	"rhythm/provider"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check which providers are reachable",
	Long: `Probe every enabled provider and report its status.

Local providers (Ollama, LM Studio, local OpenAI-compatible servers) are
asked for their model list. Cloud providers need an API key in
credentials.toml and must accept it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		statuses := a.gateway().CheckHealth(ctx)
		fmt.Fprint(cmd.OutOrStdout(), renderHealth(statuses, a.cfg.DefaultProvider))
		return nil
	},
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", provider.HealthTimeout+time.Second, "Overall time limit for all probes")
	rootCmd.AddCommand(healthCmd)
}

const (
	providerCol = 20
	statusCol   = 19
	modelsCol   = 8
	latencyCol  = 9
)

// renderHealth formats statuses as a table sorted by provider id. The
// default provider is marked with an asterisk.
func renderHealth(statuses map[string]provider.HealthStatus, defaultProvider string) string {
	if len(statuses) == 0 {
		return dimStyle.Render("No providers are enabled. Enable one in config.toml.") + "\n"
	}

	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString(headerStyle.Render(pad("PROVIDER", providerCol) + pad("STATUS", statusCol) +
		pad("MODELS", modelsCol) + pad("LATENCY", latencyCol) + "DETAILS"))
	b.WriteString("\n")

	for _, id := range ids {
		st := statuses[id]

		name := config.ProviderDisplayName(id)
		if id == defaultProvider {
			name += " *"
		}

		latency := "-"
		if st.LatencyMs > 0 {
			latency = fmt.Sprintf("%dms", st.LatencyMs)
		}

		b.WriteString(titleStyle.Render(pad(truncate(name, providerCol-1), providerCol)))
		b.WriteString(statusStyle(st.Status).Render(pad(string(st.Status), statusCol)))
		b.WriteString(pad(fmt.Sprint(len(st.Models)), modelsCol))
		b.WriteString(pad(latency, latencyCol))
		b.WriteString(dimStyle.Render(truncate(st.Reason, 60)))
		b.WriteString("\n")
	}

	return b.String()
}
