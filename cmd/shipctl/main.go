package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shipgate/shipgate/internal/domain"
	apiclient "github.com/shipgate/shipgate/pkg/api/client"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = commandStatus(args)
	case "promote":
		err = commandPromote(args)
	case "watch":
		err = commandWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("shipctl %s\n", buildVersion)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`shipctl: operate the staging-to-production promotion pipeline

Usage:
  shipctl status   [-api URL]            show deployment and pending commits
  shipctl promote  [-api URL] [-yes]     trigger a promotion
  shipctl watch    [-api URL]            follow status until promotion settles
  shipctl version`)
}

func newClient(fs *flag.FlagSet, args []string) (*apiclient.Client, error) {
	api := fs.String("api", envOr("SHIPGATE_API", "http://localhost:4000"), "control API base URL")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return apiclient.New(*api)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cli, err := newClient(fs, args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snapshot, err := cli.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(snapshot)
	return nil
}

func printStatus(s domain.AdminStatus) {
	fmt.Printf("environment:   %s\n", s.Environment)
	if s.Deployment.DeployedSHA != "" {
		deployedAt := ""
		if s.Deployment.DeployedAt != nil {
			deployedAt = " (" + s.Deployment.DeployedAt.UTC().Format(time.RFC3339) + ")"
		}
		fmt.Printf("deployed:      %s%s\n", short(s.Deployment.DeployedSHA), deployedAt)
	} else {
		fmt.Println("deployed:      never promoted")
	}
	switch {
	case s.PromotionRunning:
		fmt.Printf("promotion:     running, %s\n", s.ProgressLabel)
	case s.PromoteAvailable:
		fmt.Println("promotion:     idle")
	default:
		fmt.Println("promotion:     unavailable (webhook URL/secret not configured)")
	}
	if s.Remote.Error != "" {
		fmt.Printf("remote status: unavailable (%s)\n", s.Remote.Error)
	}
	if s.HistoryError != "" {
		fmt.Printf("history:       unavailable (%s)\n", s.HistoryError)
		return
	}
	label := fmt.Sprintf("%d pending", s.PendingCount)
	if s.Pending.UnknownBaseline {
		label += " (baseline unknown)"
	}
	if s.Pending.Diverged {
		label += " (history diverged)"
	}
	fmt.Printf("commits:       %s\n", label)
	for _, c := range s.Pending.Commits {
		fmt.Printf("  %s  %s  %s\n", c.ShortSHA, c.Date, c.Subject)
	}
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func commandPromote(args []string) error {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip confirmation prompt")
	cli, err := newClient(fs, args)
	if err != nil {
		return err
	}
	if !*yes {
		fmt.Print("promote current staging build to production? [y/N] ")
		var answer string
		fmt.Scanln(&answer)
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("aborted")
			return nil
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ack, err := cli.Promote(ctx, envOr("USER", "shipctl"))
	if err != nil {
		return err
	}
	fmt.Printf("promotion accepted (run %s); follow with: shipctl watch\n", ack.RunID)
	return nil
}

func commandWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	cli, err := newClient(fs, args)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sawRunning := false
	for {
		snapshot, err := cli.Status(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		if snapshot.PromotionRunning {
			sawRunning = true
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), snapshot.ProgressLabel)
		} else {
			if sawRunning {
				fmt.Printf("promotion settled; deployed %s\n", short(snapshot.Deployment.DeployedSHA))
				return nil
			}
			fmt.Println("no promotion running")
			return nil
		}
		interval := time.Duration(snapshot.PollIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 3 * time.Second
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
