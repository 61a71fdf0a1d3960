package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/tinkerbase/sdimager/logging"
)

type appCtxKey struct{}

type AppContext struct {
	Log *slog.Logger
}

func mustApp(ctx context.Context) *AppContext {
	a, ok := ctx.Value(appCtxKey{}).(*AppContext)
	if !ok {
		panic("application context not initialized")
	}
	return a
}

func withLogger(cmd *cli.Command) *cli.Command {
	prev := cmd.Before
	cmd.Before = func(ctx context.Context, c *cli.Command) (context.Context, error) {
		logger, _ := logging.NewFromEnv()
		ctx = context.WithValue(ctx, appCtxKey{}, &AppContext{Log: logger})
		if prev != nil {
			return prev(ctx, c)
		}
		return ctx, nil
	}
	return cmd
}

func main() {
	app := &cli.Command{
		Name:  "sdimager",
		Usage: "Build, inspect and flash bootable SD card images for single-board computers",
		Commands: []*cli.Command{
			withLogger(cmdBuild()),
			withLogger(cmdInspect()),
			withLogger(cmdFlash()),
		},
	}

	// Interrupts cancel the context; the build command registers its
	// cleanup on the way out so mounts and loop devices are released.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
