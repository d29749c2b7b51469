package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"novagent/internal/app"
	"novagent/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func loadConfig(cmd *cobra.Command) (app.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = app.DefaultConfigPath()
	}
	cfg, err := app.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("NOVAGENT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("NOVAGENT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("NOVAGENT_LLM_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("NOVAGENT_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("SEARX_URL"); v != "" {
		cfg.SearxURL = v
	}
	if v := os.Getenv("WEBFOX_URL"); v != "" {
		cfg.WebfoxURL = v
	}
	return cfg, nil
}

func main() {
	root := &cobra.Command{
		Use:     "novagent",
		Short:   "Nova assistant backend: tool orchestration and editor bridge",
		Version: version,
	}
	root.PersistentFlags().String("config", "", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := app.NewLogger(os.Stderr)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			server := app.NewServerFromConfig(cfg, logger)
			return server.ListenAndServe(ctx)
		},
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Open a terminal chat against a running backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			baseURL, _ := cmd.Flags().GetString("url")
			if baseURL == "" {
				baseURL = "http://" + cfg.ListenAddr
			}
			model, _ := cmd.Flags().GetString("model")
			if model == "" {
				model = cfg.Model
			}
			session, _ := cmd.Flags().GetString("session")

			p := tea.NewProgram(tui.New(baseURL, model, session))
			if _, err := p.Run(); err != nil {
				return err
			}
			return nil
		},
	}
	chatCmd.Flags().String("url", "", "backend base URL")
	chatCmd.Flags().String("model", "", "model identifier")
	chatCmd.Flags().String("session", "terminal", "session key for sticky editor choice")

	root.AddCommand(serveCmd, chatCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
