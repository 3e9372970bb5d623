package main

import (
	"fmt"
	"os"

	"insightbot/internal/bot"
	"insightbot/internal/model"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "check-config":
		runCheckConfig(os.Args[2:])
	case "version":
		fmt.Printf("insightbot %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	cfg, err := parseConfigFlag(args, "serve")
	if err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}

	b, err := bot.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create bot: %v\n", err)
		os.Exit(1)
	}

	if err := b.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "bot: %v\n", err)
		os.Exit(1)
	}
}

func runCheckConfig(args []string) {
	cfg, err := parseConfigFlag(args, "check-config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "check-config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("config ok: listen=%s dataset=%s model=%s\n",
		cfg.Transport.ListenAddr, cfg.Dataset.CSVPath, cfg.OpenAI.QueryModel)
}

func parseConfigFlag(args []string, cmd string) (model.Config, error) {
	configPath := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			if i+1 >= len(args) {
				return model.Config{}, fmt.Errorf("--config requires a value")
			}
			i++
			configPath = args[i]
		default:
			return model.Config{}, fmt.Errorf("unknown flag: %s\nusage: insightbot %s [--config <path>]", args[i], cmd)
		}
	}

	if configPath == "" {
		cfg := model.DefaultConfig()
		if cfg.OpenAI.APIKey == "" {
			cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		return cfg, nil
	}
	return model.LoadConfig(configPath)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `insightbot %s - chat-driven data query assistant

Usage: insightbot <command> [options]

Commands:
  serve [--config <path>]         Run the bot (webhook server + pipeline)
  check-config [--config <path>]  Validate a config file and exit
  version                         Show version
  help                            Show this help

The OpenAI API key is read from the config file or the OPENAI_API_KEY
environment variable.

`, version)
}
