package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/linder3hs/livegate/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("livegate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	_ = godotenv.Load()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Rocket.Chat:")
	printCheck("URL", cfg.RocketChat.URL != "", cfg.RocketChat.URL)
	printCheck("Username", cfg.RocketChat.Username != "", cfg.RocketChat.Username)
	printCheck("Password", cfg.RocketChat.Password != "", masked(cfg.RocketChat.Password))

	fmt.Println()
	fmt.Println("  Provider:")
	printCheck("Name", cfg.Provider.Name != "", cfg.Provider.Name)
	printCheck("API base", cfg.Provider.APIBase != "", cfg.Provider.APIBase)
	printCheck("Model", cfg.Provider.Model != "", cfg.Provider.Model)
	printCheck("API key", cfg.Provider.APIKey != "", masked(cfg.Provider.APIKey))

	fmt.Println()
	fmt.Println("  Storage:")
	if cfg.Store.SQLitePath != "" {
		fmt.Printf("    %-10s sqlite (%s)\n", "Store:", cfg.Store.SQLitePath)
	} else {
		fmt.Printf("    %-10s memory (state lost on restart)\n", "Store:")
	}
	if cfg.Cache.RedisAddr != "" {
		fmt.Printf("    %-10s redis (%s)\n", "Cache:", cfg.Cache.RedisAddr)
	} else {
		fmt.Printf("    %-10s memory\n", "Cache:")
	}

	fmt.Println()
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Result: NOT READY: %s\n", err)
		return
	}
	fmt.Println("  Result: ready")
}

func printCheck(label string, ok bool, value string) {
	if ok {
		fmt.Printf("    %-10s %s\n", label+":", value)
	} else {
		fmt.Printf("    %-10s MISSING\n", label+":")
	}
}

func masked(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
