// Command estopd runs the emergency-stop controller: it debounces the stop
// button, drives the safety relays, services the hardware watchdog and
// reports state over MQTT and HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/estop-controller/internal/config"
	"github.com/sweeney/estop-controller/internal/hal"
	"github.com/sweeney/estop-controller/internal/monitor"
	"github.com/sweeney/estop-controller/internal/mqtt"
	"github.com/sweeney/estop-controller/internal/safety"
	"github.com/sweeney/estop-controller/internal/status"
	"github.com/sweeney/estop-controller/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "estopd",
		Short:         "Emergency-stop controller daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "config file path")

	load := func() (config.Config, error) {
		return config.Load(cfgFile)
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the controller",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return run(cfg)
			},
		},
		&cobra.Command{
			Use:   "selftest",
			Short: "Pulse the LED and relays, check the watchdog, then exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return selfTest(cmd, cfg)
			},
		},
		&cobra.Command{
			Use:   "state",
			Short: "Print the stop button level and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return printState(cmd, cfg)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// openWatchdog returns the configured watchdog and a function that disarms
// it on exit. An empty device uses a software stand-in.
func openWatchdog(device string) (hal.Watchdog, func(), error) {
	if device == "" {
		return &hal.NopWatchdog{}, func() {}, nil
	}
	wd, err := hal.OpenDevWatchdog(device)
	if err != nil {
		return nil, nil, err
	}
	return wd, func() {
		if err := wd.Close(); err != nil {
			log.Printf("close watchdog: %v", err)
		}
	}, nil
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		TickMs:         int64(cfg.Timing.TickMS),
		DebounceMs:     int64(cfg.Timing.DebounceMS),
		ResetConfirmMs: int64(cfg.Timing.ResetConfirmMS),
		StuckTimeoutMs: int64(cfg.Timing.StuckTimeoutMS),
		WatchdogMs:     int64(cfg.Watchdog.TimeoutMS),
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTP.Addr,
	}
}

func run(cfg config.Config) error {
	clock := hal.NewSystemClock()
	board, err := hal.NewRealBoard(cfg.GPIO.Chip, clock)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer board.Close()

	wdHW, closeWatchdog, err := openWatchdog(cfg.Watchdog.Device)
	if err != nil {
		return fmt.Errorf("open watchdog: %w", err)
	}
	defer closeWatchdog()

	metrics := monitor.New()
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	queue := newCommandQueue(16)
	link := make(chan bool, 16)

	var publisher mqtt.Publisher = mqtt.NopPublisher{}
	var conn mqtt.ConnectionStatus = mqtt.NopPublisher{}
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			OnConnectionChange: func(up bool) {
				select {
				case link <- up:
				default:
					log.Printf("mqtt: link event dropped (connected=%v)", up)
				}
			},
			OnCommand: func(c mqtt.Command) {
				if err := queue.submit(command{kind: c, origin: "mqtt"}); err != nil {
					log.Printf("mqtt command %s: %v", c, err)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer rp.Close()
		publisher, conn = rp, rp
	}

	stop := safety.NewEmergencyStop(board, clock, cfg.Pins(), cfg.SafetyTiming())
	watchdog := safety.NewWatchdogCoordinator(wdHW, clock, cfg.WatchdogConfig())
	d := newDaemon(stop, watchdog, clock, publisher, conn, tracker, metrics, loopConfig{
		RefreshMS:           cfg.Watchdog.RefreshMS,
		HealthIntervalMS:    cfg.Timing.HealthIntervalMS,
		Heartbeat:           cfg.MQTT.Heartbeat,
		TriggerOnDisconnect: cfg.MQTT.TriggerOnDisconnect && cfg.MQTT.Broker != "",
	}, time.Now)

	if err := stop.Init(); err != nil {
		return fmt.Errorf("init emergency stop: %w", err)
	}
	if err := watchdog.Init(); err != nil {
		stop.Execute(safety.SourceWatchdog)
		return fmt.Errorf("init watchdog: %w", err)
	}

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, metrics.Handler(), queue)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: tick=%dms debounce=%dms reset_confirm=%dms watchdog=%dms broker=%q",
		cfg.Timing.TickMS, cfg.Timing.DebounceMS, cfg.Timing.ResetConfirmMS, cfg.Watchdog.TimeoutMS, cfg.MQTT.Broker)

	ticker := time.NewTicker(time.Duration(cfg.Timing.TickMS) * time.Millisecond)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(d, ticker.C, sigCh, queue, link)
}

func selfTest(cmd *cobra.Command, cfg config.Config) error {
	clock := hal.NewSystemClock()
	board, err := hal.NewRealBoard(cfg.GPIO.Chip, clock)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer board.Close()

	wdHW, closeWatchdog, err := openWatchdog(cfg.Watchdog.Device)
	if err != nil {
		return fmt.Errorf("open watchdog: %w", err)
	}
	defer closeWatchdog()

	stop := safety.NewEmergencyStop(board, clock, cfg.Pins(), cfg.SafetyTiming())
	if err := stop.Init(); err != nil {
		return fmt.Errorf("init emergency stop: %w", err)
	}
	if err := stop.SelfTest(); err != nil {
		return fmt.Errorf("emergency stop self-test: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "emergency stop: OK")

	watchdog := safety.NewWatchdogCoordinator(wdHW, clock, cfg.WatchdogConfig())
	if err := watchdog.Init(); err != nil {
		return fmt.Errorf("init watchdog: %w", err)
	}
	if err := watchdog.SelfTest(); err != nil {
		return fmt.Errorf("watchdog self-test: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "watchdog: OK")
	return nil
}

func printState(cmd *cobra.Command, cfg config.Config) error {
	board, err := hal.NewRealBoard(cfg.GPIO.Chip, hal.NewSystemClock())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer board.Close()

	pin := hal.Pin(cfg.GPIO.Button)
	if err := board.Configure(pin, hal.ModeInput, hal.PullUp, hal.SpeedLow); err != nil {
		return fmt.Errorf("configure button: %w", err)
	}
	level, err := board.Read(pin)
	if err != nil {
		return fmt.Errorf("read button: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "button: %s (%s)\n", buttonString(level), level)
	return nil
}

func buttonString(level hal.Level) string {
	if level == hal.Low {
		return "PRESSED"
	}
	return "RELEASED"
}
