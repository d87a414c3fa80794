package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/npezzotti/go-pollchat/internal/types"
	"github.com/npezzotti/go-pollchat/pkg/chatclient"
)

func sendCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "post a message",
		ArgsUsage: "<message...>",
		Flags:     clientFlags(f),
		Action: func(ctx context.Context, c *cli.Command) error {
			body := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(body) == "" {
				return errors.New("message is required")
			}

			client, err := connect(ctx, f)
			if err != nil {
				return err
			}

			msg, err := client.PostMessage(ctx, f.username, body)
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}

			printMessages(os.Stdout, []types.Message{msg})
			return nil
		},
	}
}

func tailCmd(f *flags) *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "follow the feed and the typing list",
		Flags: clientFlags(f),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := connect(ctx, f)
			if err != nil {
				return err
			}

			err = tail(ctx, chatclient.NewPoller(client, f.username), os.Stdout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func connect(ctx context.Context, f *flags) (*chatclient.Client, error) {
	client, err := chatclient.New(f.serverURL)
	if err != nil {
		return nil, err
	}

	if f.password != "" {
		if _, err := client.Login(ctx, f.username, f.password); err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
	}
	return client, nil
}

// tail prints every message once, in feed order, and the typing list
// whenever it changes.
func tail(ctx context.Context, p *chatclient.Poller, out io.Writer) error {
	var (
		lastSeq    int64
		lastTyping []string
	)

	p.OnMessages = func(msgs []types.Message) {
		fresh := lo.Filter(msgs, func(m types.Message, _ int) bool {
			return m.Seq > lastSeq
		})
		if len(fresh) == 0 {
			return
		}
		lastSeq = fresh[len(fresh)-1].Seq
		printMessages(out, fresh)
	}
	p.OnTyping = func(users []string) {
		if slices.Equal(users, lastTyping) {
			return
		}
		lastTyping = users
		if len(users) > 0 {
			fmt.Fprintf(out, "  %s typing...\n", strings.Join(users, ", "))
		}
	}
	p.OnError = func(err error) {
		log.Warn().Err(err).Msg("poll failed")
	}

	return p.Run(ctx)
}

func printMessages(out io.Writer, msgs []types.Message) {
	for _, m := range msgs {
		fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Username, m.Message)
	}
}
