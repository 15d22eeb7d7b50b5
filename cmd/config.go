package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmbridge/llmbridge/internal/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage provider credentials and the default model.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for provider credentials.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the configured providers with masked API keys.`,
	RunE:  runConfigShow,
}

var configSetDefaultModelCmd = &cobra.Command{
	Use:   "set-default-model [provider,model]",
	Short: "Set the default model",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigSetDefaultModel,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(store.Path())
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetDefaultModelCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	color.Blue("%s configuration setup", AppName)
	color.Yellow("Follow the prompts to configure a provider.")

	reader := bufio.NewReader(os.Stdin)

	fmt.Print("\nProvider name (openai, anthropic, gemini, grok, openrouter): ")
	vendor, _ := reader.ReadString('\n')
	vendor = strings.TrimSpace(vendor)

	fmt.Print("API key: ")
	apiKey, _ := reader.ReadString('\n')
	apiKey = strings.TrimSpace(apiKey)

	fmt.Print("Base URL (empty for the vendor default): ")
	baseURL, _ := reader.ReadString('\n')
	baseURL = strings.TrimSpace(baseURL)

	fmt.Print("Default model for this provider (e.g. gpt-4o): ")
	model, _ := reader.ReadString('\n')
	model = strings.TrimSpace(model)

	store.Set(vendor, settings.Credentials{APIKey: apiKey, BaseURL: baseURL})
	if model != "" {
		store.SetDefaultModel(fmt.Sprintf("%s,%s", vendor, model))
	}

	if err := store.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved to: %s", store.Path())
	color.Cyan("Try it: %s chat -m \"%s,%s\" \"hello\"", AppName, vendor, model)
	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if !store.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", AppName)
		return nil
	}

	color.Blue("Current configuration:")
	fmt.Printf("  %-15s: %s\n", "Config Path", store.Path())
	fmt.Printf("  %-15s: %s\n", "Default Model", orUnset(store.DefaultModel()))

	fmt.Println("\nProviders:")
	for _, vendor := range []string{"openai", "anthropic", "gemini", "grok", "openrouter"} {
		creds, err := store.Get(vendor)
		if err != nil {
			return err
		}
		if creds.APIKey == "" && creds.BaseURL == "" {
			continue
		}
		fmt.Printf("  - Name: %s\n", vendor)
		fmt.Printf("    API Key: %s\n", maskString(creds.APIKey))
		if creds.BaseURL != "" {
			fmt.Printf("    Base URL: %s\n", creds.BaseURL)
		}
		if creds.Organization != "" {
			fmt.Printf("    Organization: %s\n", creds.Organization)
		}
		fmt.Println()
	}
	return nil
}

func runConfigSetDefaultModel(_ *cobra.Command, args []string) error {
	store.SetDefaultModel(args[0])
	if err := store.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	color.Green("Default model set to: %s", args[0])
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
