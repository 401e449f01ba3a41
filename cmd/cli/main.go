package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"toy-exchange-go/internal/client"
	"toy-exchange-go/internal/config"
	"toy-exchange-go/internal/logger"
)

const usage = `usage: cli [-url URL] <command> [args]

commands:
  register <name>
  cash <user-id>
  portfolio <user-id>
  operations <user-id>
  rates
  buy <user-id> <currency> <quantity>
  sell <user-id> <currency> <quantity>
  add-currency <symbol> <sell-price> <buy-price>
`

func main() {
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	baseURL := flag.String("url", cfg.Client.BaseURL, "exchange API base URL")
	verbose := flag.Bool("v", false, "log requests")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	cfg.Client.BaseURL = *baseURL

	log := zap.NewNop()
	if *verbose {
		if log, err = logger.NewLogger("debug", "console"); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rc := client.NewRestClient(&cfg.Client, log)
	out, err := run(ctx, rc, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func run(ctx context.Context, rc client.RestClientInterface, args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing command\n%s", usage)
	}
	cmd, args := args[0], args[1:]

	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s)\n%s", cmd, n, usage)
		}
		return nil
	}
	userID := func() (uint, error) {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid user id %q", args[0])
		}
		return uint(id), nil
	}

	switch cmd {
	case "register":
		if err := need(1); err != nil {
			return nil, err
		}
		return rc.Register(ctx, args[0])
	case "cash", "portfolio", "operations":
		if err := need(1); err != nil {
			return nil, err
		}
		id, err := userID()
		if err != nil {
			return nil, err
		}
		switch cmd {
		case "cash":
			return rc.Cash(ctx, id)
		case "portfolio":
			return rc.Portfolio(ctx, id)
		default:
			return rc.Operations(ctx, id)
		}
	case "rates":
		return rc.Rates(ctx)
	case "buy", "sell":
		if err := need(3); err != nil {
			return nil, err
		}
		id, err := userID()
		if err != nil {
			return nil, err
		}
		if cmd == "buy" {
			return rc.Buy(ctx, id, args[1], args[2])
		}
		return rc.Sell(ctx, id, args[1], args[2])
	case "add-currency":
		if err := need(3); err != nil {
			return nil, err
		}
		return rc.AddCurrency(ctx, args[0], args[1], args[2])
	default:
		return nil, fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
