package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/donnahq/donna/internal/config"
	"github.com/donnahq/donna/internal/gateway"
	"github.com/donnahq/donna/internal/google"
)

// Chatter runs one exchange (allows mocking in tests)
type Chatter interface {
	HandleText(ctx context.Context, sessionKey, text string) (string, error)
}

// ChatterFactory creates a Chatter instance
type ChatterFactory func(cfg *config.Config) (Chatter, error)

// DefaultChatterFactory builds a full gateway without channels started; only
// the assistant pipeline is used.
func DefaultChatterFactory(cfg *config.Config) (Chatter, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'donna onboard' or set DONNA_API_KEY / ANTHROPIC_API_KEY")
	}
	return gateway.New(cfg)
}

// AgentOptions for running the agent with custom dependencies
type AgentOptions struct {
	ChatterFactory ChatterFactory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "donna",
	Short: "donna - personal executive assistant",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the assistant in single message or REPL mode",
	RunE:  runAgent,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + monitor)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and authorize Google access",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show donna status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(agentCmd, gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	return runAgentWithOptions(AgentOptions{})
}

// runAgentWithOptions runs the agent with injectable dependencies for testing
func runAgentWithOptions(opts AgentOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.ChatterFactory
	if factory == nil {
		factory = DefaultChatterFactory
	}
	chatter, err := factory(cfg)
	if err != nil {
		return err
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()

	// Single message mode
	if messageFlag != "" {
		reply, err := chatter.HandleText(ctx, "cli", messageFlag)
		if err != nil {
			return fmt.Errorf("assistant error: %w", err)
		}
		fmt.Fprintln(stdout, reply)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "donna (type 'clear' to reset, 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := chatter.HandleText(ctx, "cli-repl", input)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(stdout, reply)
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'donna onboard' or set DONNA_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	// Google OAuth happens only when credentials.json is present; the rest
	// of the setup works without it.
	if _, err := os.Stat(filepath.Join(cfgDir, "credentials.json")); err == nil {
		if err := google.Authorize(context.Background(), cfgDir); err != nil {
			fmt.Printf("Google authorization failed: %v\n", err)
		}
	} else {
		fmt.Printf("No %s found — skipping Google authorization.\n", filepath.Join(cfgDir, "credentials.json"))
		fmt.Println("Download an OAuth client secret from Google Cloud Console and re-run 'donna onboard'.")
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set DONNA_API_KEY / ANTHROPIC_API_KEY")
	fmt.Println("  3. Run 'donna agent -m \"What's on my calendar this week?\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Timezone: %s\n", cfg.Schedule.Timezone)
	fmt.Printf("Work hours: %s-%s\n", cfg.Schedule.WorkStart, cfg.Schedule.WorkEnd)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Web: enabled=%v\n", cfg.Channels.Web.Enabled)
	fmt.Printf("Monitor: enabled=%v\n", cfg.Monitor.Enabled)

	if _, err := os.Stat(filepath.Join(config.ConfigDir(), "token.json")); err == nil {
		fmt.Println("Google: authorized")
	} else {
		fmt.Println("Google: not authorized (run 'donna onboard')")
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}
