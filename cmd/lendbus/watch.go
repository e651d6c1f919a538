package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lendbus/internal/client"
	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/model"
	"github.com/alfredjeanlab/lendbus/internal/ui"
)

// managerConfig maps the resolved profile onto connection settings.
// Zero values fall through to the manager defaults.
func managerConfig() client.ManagerConfig {
	return client.ManagerConfig{
		URL:            client.WebSocketURL(profile.URL),
		Token:          profile.Token,
		MaxAttempts:    profile.MaxAttempts,
		BaseDelay:      profile.BaseDelay,
		MaxDelay:       profile.MaxDelay,
		ConnectTimeout: profile.ConnectTimeout,
		PingInterval:   profile.PingInterval,
		PongTimeout:    profile.PongTimeout,
	}
}

// printPayload writes one received event to stdout.
func printPayload(channel string, p events.Payload) {
	f, err := events.NewFrame(channel, p, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if jsonOutput {
		data, _ := json.Marshal(f)
		fmt.Println(string(data))
		return
	}
	fmt.Println(ui.FormatFrame(f))
}

var watchCmd = &cobra.Command{
	Use:   "watch [channel...]",
	Short: "Stream live events over the WebSocket channel",
	Long: `Connects to the server's event channel and prints events as they arrive.

Every connection receives its private user:<id> channel. Extra channels
(loans, marketplace, user:<id>) are subscribed on connect and re-established
after every reconnect.`,
	GroupID: "events",
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		if profile.Token == "" {
			return errors.New("no token: pass --token, set LENDBUS_TOKEN or add one to the profile")
		}
		for _, ch := range args {
			if kind, _ := model.ParseChannel(ch); kind == model.ChannelInvalid {
				return fmt.Errorf("invalid channel %q", ch)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := client.NewManager(managerConfig(), client.WSDialer{}, client.WithLogger(logger))
		defer m.Close()

		failed := make(chan error, 1)
		m.OnNotice(func(n client.Notice) {
			if n.Persistent {
				fmt.Fprintln(os.Stderr, ui.RenderError(n.Message))
				select {
				case failed <- n.Err:
				default:
				}
				return
			}
			fmt.Fprintln(os.Stderr, ui.RenderWarn(n.Message))
		})
		m.OnStateChange(func(from, to client.State) {
			if to == client.StateConnected && from == client.StateReconnecting {
				fmt.Fprintln(os.Stderr, ui.RenderMuted("reconnected"))
			}
		})

		for _, name := range events.AllEvents {
			switch name {
			case events.EventPong, events.EventConnectionConfirmed:
				continue
			}
			m.On(name, func(p events.Payload) { printPayload("", p) })
		}

		for _, ch := range args {
			_ = m.Subscribe(ch)
		}
		if err := m.Connect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, ui.RenderMuted("connected to "+managerConfig().URL))

		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return err
		}
	},
}

func init() {
	watchCmd.Flags().BoolP("verbose", "v", false, "log connection activity")
}
