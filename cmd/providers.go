package cmd

import (
	"fmt"
	"sort"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/llmbridge/llmbridge/internal/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List supported providers",
	Long:  `List the built-in providers, their continuation strategy and whether credentials are configured.`,
	RunE:  runProviders,
}

func runProviders(_ *cobra.Command, _ []string) error {
	registry := providers.NewRegistry()
	registry.Initialize(logger)

	names := registry.List()
	sort.Strings(names)

	table := uitable.New()
	table.AddRow("PROVIDER", "CONTINUATION", "CONFIGURED")
	for _, name := range names {
		p, _ := registry.Get(name)
		creds, err := store.Get(name)
		if err != nil {
			return err
		}
		configured := "no"
		if creds.APIKey != "" {
			configured = "yes"
		}
		table.AddRow(name, string(p.ContinuationStrategy()), configured)
	}
	fmt.Println(table)
	return nil
}
