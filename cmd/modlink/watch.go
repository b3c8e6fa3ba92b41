package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ceyewan/modlink/clog"
	"github.com/ceyewan/modlink/moderation"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [eventId...]",
		Short: "Connect to the moderation channel, view the given events and print every lock event",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromFlags(cmd)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			a.watchLogLevel(cmd.Context())
			return runWatch(cmd.Context(), a, args, cmd.OutOrStdout())
		},
	}
}

// watchLine 是 watch 输出的一行 JSON
type watchLine struct {
	Kind     moderation.Kind `json:"kind"`
	EventID  string          `json:"eventId,omitempty"`
	LockedBy string          `json:"lockedBy,omitempty"`
	Code     int             `json:"code,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// runWatch 连接并在每次 open 后重新声明 ids，直到 ctx 结束
func runWatch(ctx context.Context, a *app, ids []string, out io.Writer) error {
	c := a.coordinator

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	emit := func(e moderation.Event) {
		line := watchLine{Kind: e.Kind, EventID: e.EventID, LockedBy: e.LockedBy, Code: e.Code, Reason: e.Reason}
		if e.Err != nil {
			line.Error = e.Err.Error()
		}
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(line); err != nil {
			a.logger.Warn("write event failed", clog.Error(err))
		}
	}

	subs := make([]moderation.Subscription, 0, len(moderation.Kinds)+1)
	for _, kind := range moderation.Kinds {
		sub, err := c.On(kind, emit)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}
	reassert, err := c.On(moderation.KindOpen, func(moderation.Event) {
		for _, id := range ids {
			c.StartViewing(id)
		}
		c.RequestCurrentLocks()
	})
	if err != nil {
		return err
	}
	subs = append(subs, reassert)
	defer func() {
		for _, sub := range subs {
			c.Off(sub)
		}
	}()

	a.logger.Info("watching events", clog.Any("event_ids", ids))
	c.Connect()
	<-ctx.Done()

	a.logger.Info("shutting down")
	c.Disconnect()
	return nil
}
