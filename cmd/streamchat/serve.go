package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/streamchat/pkg/events"
	"github.com/go-go-golems/streamchat/pkg/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat over HTTP with a websocket event feed",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().StringSlice("allowed-origin", nil, "Origins allowed to open the websocket feed (* for any)")
	addSettingsFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	router.AddHandler("log", logEvent)

	manager, records, err := newManager(ctx, cmd, router.Sink())
	if err != nil {
		return err
	}
	defer func() {
		if err := records.Close(); err != nil {
			log.Error().Err(err).Msg("could not close record store")
		}
	}()

	var options []server.Option
	if origins, _ := cmd.Flags().GetStringSlice("allowed-origin"); len(origins) > 0 {
		options = append(options, server.WithAllowedOrigins(origins...))
	}
	srv := server.NewServer(manager, router, options...)
	addr, _ := cmd.Flags().GetString("addr")

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}
		return srv.Run(ctx, addr)
	})

	err = eg.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func logEvent(e events.Event) error {
	ev := log.Debug().Str("event_type", string(e.Type()))
	if lo, ok := e.(zerolog.LogObjectMarshaler); ok {
		ev = ev.Object("event", lo)
	}
	ev.Msg("event")
	return nil
}
