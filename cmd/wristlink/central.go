package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oddforge/wristlink/internal/history"
	"github.com/oddforge/wristlink/internal/link"
	"github.com/oddforge/wristlink/internal/monitor"
	"github.com/oddforge/wristlink/internal/wire"
)

var centralCmd = &cobra.Command{
	Use:   "central",
	Short: "Run the main-device side of the link",
	RunE:  runCentral,
}

// managerView adapts the link manager to the monitor's view interface and
// mirrors outbound sends into history.
type managerView struct {
	m     *link.Manager
	store *history.Store
}

func (v *managerView) State() string                   { return v.m.State().String() }
func (v *managerView) UnreadCount() int                { return v.m.UnreadCount() }
func (v *managerView) Messages() []wire.MeshMessage    { return v.m.Messages() }
func (v *managerView) Nodes() []wire.NodeInfo          { return v.m.Nodes() }
func (v *managerView) Status() (wire.MeshStatus, bool) { return v.m.Status() }

func (v *managerView) Send(to, text string, channel uint8, wantAck bool) (uint32, error) {
	seq, err := v.m.Send(to, text, channel, wantAck)
	if err == nil && v.store != nil {
		if herr := v.store.AppendSent(wire.MeshSendRequest{
			Seq: seq, To: to, Text: text, Channel: channel, WantAck: wantAck,
		}); herr != nil {
			slog.Warn("[central] history append failed", "error", herr)
		}
	}
	return seq, err
}

func runCentral(cmd *cobra.Command, args []string) error {
	var store *history.Store
	if cfg.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0755); err != nil {
			return fmt.Errorf("history dir: %w", err)
		}
		var err error
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		slog.Info("[central] history open", "path", cfg.History.Path)
	}

	bus := monitor.NewEventBus()
	m := link.NewManager(link.NewBluetoothAdapter(), cfg.LinkOptions())
	defer m.Close()

	m.OnStateChange(func(s link.State) {
		bus.PublishLinkState(s.String())
		if s == link.StateReady {
			go func() {
				if err := m.RefreshNodes(); err != nil {
					slog.Debug("[central] node refresh failed", "error", err)
				}
			}()
		}
	})
	m.OnTelemetry(func(f wire.TelemetryFrame) {
		bus.PublishTelemetry(f)
	})
	m.OnInbox(func(msg wire.MeshMessage) {
		fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05"), senderName(msg), msg.Text)
		bus.PublishInbox(msg)
		if store != nil {
			if err := store.AppendReceived(msg); err != nil {
				slog.Warn("[central] history append failed", "error", err)
			}
		}
	})
	m.OnStatus(func(st wire.MeshStatus) {
		bus.PublishStatus(st)
	})
	m.OnHeartbeat(func(hb wire.Heartbeat) {
		bus.Publish(monitor.Event{Type: monitor.EventHeartbeat, Data: hb})
	})
	m.OnSendComplete(func(seq uint32, success bool) {
		bus.Publish(monitor.Event{
			Type: monitor.EventSendDone,
			Data: map[string]interface{}{"seq": seq, "success": success},
		})
	})

	if cfg.Monitor.Enabled {
		router := monitor.NewRouter(&managerView{m: m, store: store}, store, bus)
		go func() {
			slog.Info("[central] monitor listening", "addr", cfg.Monitor.Listen)
			if err := http.ListenAndServe(cfg.Monitor.Listen, router); err != nil {
				slog.Error("[central] monitor server stopped", "error", err)
			}
		}()
	}

	if err := m.Start(); err != nil {
		return err
	}
	slog.Info("[central] scanning", "name", cfg.DeviceName)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("[central] shutting down")
	return nil
}

func senderName(msg wire.MeshMessage) string {
	if msg.FromName != "" {
		return msg.FromName
	}
	if msg.FromID != "" {
		return msg.FromID
	}
	return "?"
}
