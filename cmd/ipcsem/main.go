// ipcsem is a small operator tool for the named-semaphore library: it can
// create, drive, inspect, and remove cross-process semaphores from the shell,
// which is handy when debugging processes that coordinate through one.
package main

import (
	"fmt"
	"os"

	"github.com/richinsley/ipcsem"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := zerolog.New(os.Stderr).With().
		Timestamp().
		Str("tool", "ipcsem").
		Logger()

	open := func(ctx *cli.Context) (*ipcsem.Semaphore, error) {
		sem, err := ipcsem.NewSemaphore(ctx.String("name"), ctx.Uint("count"))
		if err != nil {
			return nil, fmt.Errorf("failed to open semaphore %q: %w", ctx.String("name"), err)
		}
		return sem, nil
	}

	app := &cli.App{
		Name:  "ipcsem",
		Usage: "create, drive, and inspect named cross-process semaphores",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "name",
				Aliases:  []string{"n"},
				Usage:    "semaphore name shared by the cooperating processes",
				Required: true,
			},
			&cli.UintFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "initial count, used only if the semaphore does not exist yet",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create the semaphore (or join it if it already exists)",
				Action: func(ctx *cli.Context) error {
					sem, err := open(ctx)
					if err != nil {
						return err
					}
					defer sem.Close()
					logger.Info().Str("name", sem.Name()).Msg("semaphore ready")
					return nil
				},
			},
			{
				Name:  "wait",
				Usage: "block until a slot is available, then take it",
				Action: func(ctx *cli.Context) error {
					sem, err := open(ctx)
					if err != nil {
						return err
					}
					defer sem.Close()
					logger.Info().Str("name", sem.Name()).Msg("waiting")
					sem.Wait()
					logger.Info().Str("name", sem.Name()).Msg("acquired")
					return nil
				},
			},
			{
				Name:  "trywait",
				Usage: "take a slot if one is available; exits 1 if the count is zero",
				Action: func(ctx *cli.Context) error {
					sem, err := open(ctx)
					if err != nil {
						return err
					}
					defer sem.Close()
					if !sem.TryWait() {
						return cli.Exit("busy: count is zero", 1)
					}
					logger.Info().Str("name", sem.Name()).Msg("acquired")
					return nil
				},
			},
			{
				Name:  "post",
				Usage: "release one slot, waking at most one waiter",
				Action: func(ctx *cli.Context) error {
					sem, err := open(ctx)
					if err != nil {
						return err
					}
					defer sem.Close()
					sem.Post()
					logger.Info().Str("name", sem.Name()).Msg("posted")
					return nil
				},
			},
			{
				Name:  "value",
				Usage: "print the current count (momentary; other processes may race it)",
				Action: func(ctx *cli.Context) error {
					sem, err := open(ctx)
					if err != nil {
						return err
					}
					defer sem.Close()
					v, err := sem.Value()
					if err != nil {
						return err
					}
					fmt.Println(v)
					return nil
				},
			},
			{
				Name:  "destroy",
				Usage: "remove the kernel semaphore, invalidating every handle to it",
				Action: func(ctx *cli.Context) error {
					sem, err := open(ctx)
					if err != nil {
						return err
					}
					if err := sem.Destroy(); err != nil {
						return fmt.Errorf("failed to destroy semaphore %q: %w", sem.Name(), err)
					}
					logger.Info().Str("name", sem.Name()).Msg("destroyed")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal().Err(err).Msg("command failed")
	}
}
