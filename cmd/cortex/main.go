package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fentz26/cortex/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Cortex - goal-driven agent runtime",
	Long: `Cortex runs think sessions against an LLM, tracks goals and their
dependencies, and executes scheduled tasks through a handler router.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	apiAddr string
	v       = viper.New()
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default ~/.cortex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database")

	v.SetEnvPrefix("CORTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = v.BindEnv("llm.openai.api_key", "CORTEX_LLM_OPENAI_API_KEY", "OPENAI_API_KEY")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		apiAddr = strings.TrimRight(v.GetString("api"), "/")
	}

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(thinkCmd)
	rootCmd.AddCommand(goalCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(handlersCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the config file and applies flag and environment
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"store.path":          &cfg.Store.Path,
		"log.level":           &cfg.Log.Level,
		"log.format":          &cfg.Log.Format,
		"server.addr":         &cfg.Server.Addr,
		"llm.provider":        &cfg.LLM.Provider,
		"llm.openai.base_url": &cfg.LLM.OpenAI.BaseURL,
		"llm.openai.api_key":  &cfg.LLM.OpenAI.APIKey,
		"llm.openai.model":    &cfg.LLM.OpenAI.Model,
		"memory.embedder":     &cfg.Memory.Embedder,
	}
	for key, dst := range overrides {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}
	if cfg.Memory.Embedder == "openai" && cfg.Memory.APIKey == "" {
		cfg.Memory.APIKey = cfg.LLM.OpenAI.APIKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
