package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/lendbus/internal/events"
	"github.com/alfredjeanlab/lendbus/internal/ui"
)

var tailCmd = &cobra.Command{
	Use:   "tail [event...]",
	Short: "Follow the NATS mirror of dispatched events",
	Long: `Subscribes to the server's NATS mirror and prints every dispatched frame,
regardless of channel membership. Pass event names (e.g. loan:status) to
narrow the stream.`,
	GroupID: "events",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := profile.NATSURL
		if url == "" {
			url = os.Getenv("LENDBUS_NATS_URL")
		}
		if url == "" {
			return errors.New("no NATS URL: pass --nats-url, set LENDBUS_NATS_URL or add nats_url to the profile")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		sub, err := events.NewNATSSubscriber(url,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Printf("nats: disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				log.Printf("nats: reconnected")
			}),
		)
		if err != nil {
			return err
		}
		defer sub.Close()

		subjects := []string{events.SubjectPrefix + ">"}
		if len(args) > 0 {
			subjects = subjects[:0]
			for _, ev := range args {
				subjects = append(subjects, events.Subject(ev))
			}
		}

		merged := make(chan []byte, 64)
		for _, subject := range subjects {
			ch, cancel, err := sub.Subscribe(subject)
			if err != nil {
				return err
			}
			defer cancel()
			go func() {
				for data := range ch {
					select {
					case merged <- data:
					case <-ctx.Done():
						return
					}
				}
			}()
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case data := <-merged:
				if jsonOutput {
					fmt.Println(string(data))
					continue
				}
				f, err := events.ParseFrame(data)
				if err != nil {
					fmt.Fprintf(os.Stderr, "skipping bad frame: %v\n", err)
					continue
				}
				fmt.Println(ui.FormatFrame(f))
			}
		}
	},
}
