package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/ai"
	"github.com/aman-zulfiqar/krc20-swap/internal/config"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

// ai-agent answers questions about archived swap orders from the terminal.
func main() {
	loadEnv()

	queryFlag := flag.String("q", "", "ask one question and exit")
	modelFlag := flag.String("model", "openai/gpt-4.1-mini", "OpenRouter model name")
	jsonFlag := flag.Bool("json", false, "print results as JSON")
	timeout := flag.Duration("timeout", 60*time.Second, "per-question timeout")
	verbose := flag.Bool("v", false, "debug logging (shows generated SQL as it is built)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if cfg.OpenRouterAPIKey == "" {
		logger.Fatal("OPENROUTER_API_KEY is required")
	}
	if cfg.ClickHouseAddr == "" {
		logger.Fatal("CLICKHOUSE_ADDR is required, the agent reads the archived swap_orders table")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	agent, err := ai.NewAgent(ctx, ai.AgentConfig{
		ClickHouseAddr:     cfg.ClickHouseAddr,
		ClickHouseDatabase: cfg.ClickHouseDatabase,
		ClickHouseUsername: cfg.ClickHouseUsername,
		ClickHousePassword: cfg.ClickHousePassword,
		OpenRouterAPIKey:   cfg.OpenRouterAPIKey,
		Model:              *modelFlag,
		Logger:             logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create AI agent")
	}
	defer agent.Close()

	p := printer{json: *jsonFlag}
	ask := func(q string) error {
		qctx, qcancel := context.WithTimeout(ctx, *timeout)
		defer qcancel()
		res, err := agent.Ask(qctx, q)
		if err != nil {
			return err
		}
		p.result(q, res)
		return nil
	}

	if *queryFlag != "" {
		if err := ask(*queryFlag); err != nil {
			logger.WithError(err).Fatal("query failed")
		}
		return
	}

	repl(ctx, ask, ai.Schema(cfg.ClickHouseDatabase))
}

const help = `Commands:
  :schema   show the swap_orders table
  :help     show this help
  :q        quit (an empty line also quits)
Anything else is asked as a question, e.g. "top 5 pairs by completed orders this week".`

func repl(ctx context.Context, ask func(string) error, schema string) {
	fmt.Println("KRC20 swap order archive (questions become ClickHouse SQL)")
	fmt.Println(help)
	fmt.Println()

	in := bufio.NewScanner(os.Stdin)
	for {
		if ctx.Err() != nil {
			return
		}
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		switch line {
		case "", ":q", ":quit":
			return
		case ":help":
			fmt.Println(help)
			continue
		case ":schema":
			fmt.Println(strings.TrimSpace(schema))
			continue
		}
		if err := ask(line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

type printer struct {
	json bool
}

func (p printer) result(question string, res *ai.AskResult) {
	if p.json {
		b, _ := json.MarshalIndent(map[string]any{
			"question": question,
			"sql":      res.SQL,
			"rows":     res.Rows,
			"answer":   res.Answer,
		}, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Printf("\nSQL (%d rows):\n%s\n\n", res.Rows, res.SQL)
	fmt.Printf("Answer:\n%s\n\n", res.Answer)
}
