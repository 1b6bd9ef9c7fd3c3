// Command relaybench opens several sessions in one room of a running relay,
// has each publish deltas and reports delivery, ordering and latency.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "relaybench",
		Usage: "Fan-out smoke test against a running relay",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "Relay base URL", Sources: cli.EnvVars("RELAY_URL")},
			&cli.StringFlag{Name: "room", Usage: "Room to use (default: random bench-* room)"},
			&cli.IntFlag{Name: "clients", Value: 5, Usage: "Number of sessions"},
			&cli.IntFlag{Name: "messages", Value: 100, Usage: "Deltas published per session"},
			&cli.DurationFlag{Name: "interval", Value: 10 * time.Millisecond, Usage: "Delay between deltas (0 = no delay)"},
			&cli.DurationFlag{Name: "timeout", Value: time.Minute, Usage: "Overall deadline"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			report, err := Run(ctx, Options{
				URL:      cmd.String("url"),
				Room:     cmd.String("room"),
				Clients:  int(cmd.Int("clients")),
				Messages: int(cmd.Int("messages")),
				Interval: cmd.Duration("interval"),
				Timeout:  cmd.Duration("timeout"),
			})
			if report != nil {
				fmt.Fprintln(cmd.Writer, report)
			}
			if err != nil {
				return err
			}
			if !report.Complete() {
				return fmt.Errorf("incomplete delivery: %d of %d deltas", report.Received, report.Expected)
			}
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
