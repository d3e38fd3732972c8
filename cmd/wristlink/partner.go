package main

import (
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oddforge/wristlink/internal/bridge"
	"github.com/oddforge/wristlink/internal/gesture"
	"github.com/oddforge/wristlink/internal/link"
	"github.com/oddforge/wristlink/internal/serialjoy"
	"github.com/oddforge/wristlink/internal/wire"
)

var synthetic bool

var partnerCmd = &cobra.Command{
	Use:   "partner",
	Short: "Run the partner-device side of the link",
	Long: `Runs the peripheral host: advertises the partner identity, accepts the
main device's connection, and streams joystick telemetry.

Telemetry comes from the serial input board (partner.serial_port), or from
a synthetic joystick pattern with --synthetic for bench testing without
hardware. Mesh sends are logged rather than radioed; attach a real mesh
transport by replacing the transmit sink.`,
	RunE: runPartner,
}

func init() {
	partnerCmd.Flags().BoolVar(&synthetic, "synthetic", false,
		"generate a synthetic joystick pattern instead of reading the serial board")
}

func runPartner(cmd *cobra.Command, args []string) error {
	p := link.NewBluetoothPeripheral()
	if err := p.Enable(); err != nil {
		return err
	}

	br := bridge.New(func(req wire.MeshSendRequest) error {
		slog.Info("[partner] mesh send", "seq", req.Seq, "to", req.To, "text", req.Text)
		return nil
	})

	host := link.NewHost(p, br, cfg.DeviceName)
	if err := host.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)

	// periodic duties
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				host.Tick(now)
			}
		}
	}()

	if synthetic {
		go runSyntheticJoystick(host, done)
	} else if cfg.Partner.SerialPort != "" {
		go runSerialJoystick(host, done)
	} else {
		slog.Info("[partner] no telemetry source configured")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("[partner] shutting down")
	p.StopAdvertising()
	return nil
}

// runSerialJoystick forwards classified frames from the input board. The
// board runs its own classifier; frames pass through untouched.
func runSerialJoystick(host *link.Host, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		r, err := serialjoy.Open(cfg.Partner.SerialPort, cfg.Partner.BaudRate)
		if err != nil {
			slog.Warn("[partner] serial open failed, retrying", "port", cfg.Partner.SerialPort, "error", err)
			select {
			case <-done:
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		slog.Info("[partner] joystick connected", "port", cfg.Partner.SerialPort)

		for {
			frame, err := r.Next()
			if err != nil {
				slog.Warn("[partner] joystick read failed, reopening", "error", err)
				r.Close()
				break
			}
			host.SendTelemetry(frame)
		}
	}
}

// runSyntheticJoystick feeds the gesture classifier a slow circular sweep
// with a press every few seconds, for bench testing without hardware.
func runSyntheticJoystick(host *link.Host, done <-chan struct{}) {
	gc := cfg.GestureConfig()
	cls := gesture.New(gc)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			tick++
			angle := float64(tick) / 100 * 2 * math.Pi
			swing := float64(gc.Center - gc.Deadzone - 1)
			s := gesture.Sample{
				RawX:      gc.Center + int(swing*math.Cos(angle)),
				RawY:      gc.Center + int(swing*math.Sin(angle)),
				JoyButton: tick%300 < 10, // brief press every 3s
			}
			if frame, ok := cls.Tick(s, now); ok {
				host.SendTelemetry(frame)
			}
		}
	}
}
