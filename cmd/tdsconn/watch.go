package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tdsconn/internal/infrastructure/mqtt"
)

func newWatchCmd(a *app) *cobra.Command {
	var connID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream connection lifecycle events from MQTT",
		Long: `Subscribe to the lifecycle events published by "tdsconn serve" and print
them until interrupted.

Examples:
  tdsconn watch
  tdsconn watch --conn 3f0c... --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWatch(cmd.Context(), connID, asJSON)
		},
	}
	cmd.Flags().StringVar(&connID, "conn", "", "Only show events for this connection ID")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON messages")
	return cmd
}

func (a *app) runWatch(ctx context.Context, connID string, asJSON bool) error {
	cfg := a.cfg.MQTT
	// a distinct client ID keeps the watcher from displacing the server
	cfg.Broker.ClientID += "-watch-" + fmt.Sprint(time.Now().UnixNano())

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // best-effort on exit
	client.SetLogger(a.log.Component("mqtt"))

	topic := mqtt.Topics{}.AllConnectionEvents()
	if connID != "" {
		topic = mqtt.Topics{}.ConnectionEvents(connID)
	}
	//nolint:gosec // QoS validated to 0..2 by config
	return a.watchLifecycle(ctx, client, topic, byte(cfg.QoS), asJSON)
}

// subscriber is the part of *mqtt.Client the watch command uses.
type subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// watchLifecycle prints lifecycle messages on topic until ctx ends, then
// drops the subscription.
func (a *app) watchLifecycle(ctx context.Context, sub subscriber, topic string, qos byte, asJSON bool) error {
	var mu sync.Mutex
	err := sub.Subscribe(topic, qos, func(_ string, payload []byte) error {
		msg, err := mqtt.DecodeLifecycleMessage(payload)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		return printLifecycle(a, msg, asJSON)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	a.log.Info("watching lifecycle events", "topic", topic)

	<-ctx.Done()
	if err := sub.Unsubscribe(topic); err != nil {
		a.log.Warn("unsubscribe failed", "topic", topic, "error", err)
	}
	return nil
}

func printLifecycle(a *app, msg mqtt.LifecycleMessage, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(a.out).Encode(msg)
	}

	line := fmt.Sprintf("%s %-14s %s %s", msg.Timestamp.Local().Format(time.TimeOnly), msg.Type, msg.ConnID, msg.Server)
	if msg.Kind != "" {
		line += " kind=" + msg.Kind
	}
	if msg.DurationMS > 0 {
		line += fmt.Sprintf(" duration=%dms", msg.DurationMS)
	}
	if msg.Error != "" {
		line += " error=" + fmt.Sprintf("%q", msg.Error)
	}
	_, err := fmt.Fprintln(a.out, line)
	return err
}
