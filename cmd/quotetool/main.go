package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"marketcore/internal/model"
	redisstore "marketcore/internal/store/redis"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: quotetool [flags] <command> [args]

commands:
  quote <SEGMENT> <token>        latest merged snapshot
  atm <SYMBOL> <EXPIRY>          latest ATM state
  greeks <SEGMENT> <token>       latest greeks
  count <SEGMENT>                stored snapshot count

flags:
`)
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", envOr("REDIS_ADDR", "localhost:6379"), "redis address")
	password := flag.String("password", os.Getenv("REDIS_PASSWORD"), "redis password")
	db := flag.Int("db", 0, "redis database")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}

	reader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:     *addr,
		Password: *password,
		DB:       *db,
	})
	if err != nil {
		log.Fatalf("[quotetool] %v", err)
	}
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch args[0] {
	case "quote":
		seg, token := segToken(args[1:])
		snap, err := reader.LatestQuote(ctx, seg, token)
		if err != nil {
			log.Fatalf("[quotetool] %v", err)
		}
		fmt.Printf("%s:%d ltp=%.2f bid=%.2f/%d ask=%.2f/%d vol=%d oi=%d at=%s\n",
			snap.Segment, snap.Token, snap.LTP,
			snap.BidPrice, snap.BidQty, snap.AskPrice, snap.AskQty,
			snap.Volume, snap.OpenInterest, snap.UpdatedAt.Format(time.RFC3339))

	case "atm":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		info, err := reader.LatestATM(ctx, args[1], args[2])
		if err != nil {
			log.Fatalf("[quotetool] %v", err)
		}
		fmt.Printf("%s %s spot=%.2f step=%.0f atm=%.0f call=%d put=%d at=%s\n",
			info.Symbol, info.Expiry, info.SpotPrice, info.StrikeStep,
			info.ATMStrike, info.CallToken, info.PutToken,
			info.ComputedAt.Format(time.RFC3339))

	case "greeks":
		seg, token := segToken(args[1:])
		res, err := reader.LatestGreeks(ctx, seg, token)
		if err != nil {
			log.Fatalf("[quotetool] %v", err)
		}
		if !res.Converged {
			fmt.Printf("%s:%d iv=N/A (%s) at=%s\n",
				res.Segment, res.Token, res.Reason, res.ComputedAt.Format(time.RFC3339))
			return
		}
		fmt.Printf("%s:%d iv=%.2f%% delta=%.4f gamma=%.6f theta=%.4f vega=%.4f rho=%.4f theo=%.2f at=%s\n",
			res.Segment, res.Token, res.IV*100, res.Delta, res.Gamma,
			res.Theta, res.Vega, res.Rho, res.TheoPrice,
			res.ComputedAt.Format(time.RFC3339))

	case "count":
		seg, err := model.ParseSegment(args[1])
		if err != nil {
			log.Fatalf("[quotetool] %v", err)
		}
		n, err := reader.QuoteCount(ctx, seg)
		if err != nil {
			log.Fatalf("[quotetool] %v", err)
		}
		fmt.Printf("%s: %d snapshots\n", seg, n)

	default:
		usage()
		os.Exit(2)
	}
}

func segToken(args []string) (model.Segment, int64) {
	if len(args) != 2 {
		usage()
		os.Exit(2)
	}
	seg, err := model.ParseSegment(args[0])
	if err != nil {
		log.Fatalf("[quotetool] %v", err)
	}
	token, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		log.Fatalf("[quotetool] bad token %q: %v", args[1], err)
	}
	return seg, token
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
