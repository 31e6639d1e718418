package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"specan/pkg/api"
	"specan/pkg/instrument"
	"specan/pkg/publisher"
	"specan/pkg/registry"
	"specan/pkg/scpi"
	"specan/pkg/simulator"
	"specan/pkg/store"
	"specan/templates"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"
)

func run(c *cli.Context) error {
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	log.Info("Spectrum Analyzer Server")

	// Channel to listen for interrupt or terminate signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tmpl, err := templates.LoadTemplates()
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	db, err := bolt.Open(c.String("db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}
	defer db.Close()

	presets, err := store.New(db, log.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to create store: %v", err)
	}

	// A fixed configuration is validated up front so a broken file stops the
	// server instead of failing every connect.
	if path := c.String("config"); path != "" {
		cfg, err := registry.LoadConfig(path)
		if err != nil {
			return err
		}
		if _, err := registry.New(cfg); err != nil {
			return fmt.Errorf("device configuration %s: %w", path, err)
		}
	}

	var catalog *registry.Catalog
	if path := c.String("catalog"); path != "" {
		catalog, err = registry.LoadCatalog(path)
		if err != nil {
			if c.String("config") == "" {
				return err
			}
			log.Warnf("Ignoring device catalog: %v", err)
		}
	}

	var wg sync.WaitGroup

	address := c.String("address")
	if c.Bool("simulate") {
		address, err = startSimulator(ctx, &wg, c.String("config"), catalog)
		if err != nil {
			return fmt.Errorf("failed to start simulator: %v", err)
		}
	}

	hub := api.NewHub(log.StandardLogger())
	defer hub.Close()
	notifiers := instrument.Notifiers{hub}

	if broker := c.String("mqtt-broker"); broker != "" {
		client, err := publisher.NewClient(publisher.Config{
			Broker:   broker,
			Username: c.String("mqtt-username"),
			Password: c.String("mqtt-password"),
		})
		if err != nil {
			return err
		}
		pub := publisher.New(client, c.String("mqtt-topic"), log.StandardLogger())
		defer pub.Close()
		notifiers = append(notifiers, pub)
		log.Infof("Publishing events to %s under %s", broker, c.String("mqtt-topic"))
	}

	driver := instrument.NewDriver(instrument.Options{
		Address:    address,
		Timeout:    c.Duration("timeout"),
		ConfigPath: c.String("config"),
		Catalog:    catalog,
		Reset:      c.Bool("reset"),
		Presets:    presets,
		Notifier:   notifiers,
	}, log.WithField("device", address))
	defer driver.Close()

	if address != "" {
		if err := driver.Connect(); err != nil {
			log.Errorf("Could not connect to instrument: %v", err)
		}
	}

	server := api.NewServer(driver, presets, hub, tmpl, log.StandardLogger())
	mux := server.AddRoutes()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Int("port")),
		Handler: mux,
	}

	wg.Add(1)
	go func() {
		log.Debugf("Server started on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", srv.Addr, err)
		}
		wg.Done()
	}()

	<-ctx.Done()

	log.Info("Shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(ctx2); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}

	wg.Wait()
	log.Info("Server stopped")
	return nil
}

// startSimulator serves a simulated instrument on a loopback port and
// returns its address.
func startSimulator(ctx context.Context, wg *sync.WaitGroup, configPath string, catalog *registry.Catalog) (string, error) {
	path := configPath
	if path == "" {
		if catalog == nil {
			return "", instrument.ErrNoConfig
		}
		_, p, err := catalog.Match(simulator.DefaultIdentity)
		if err != nil {
			return "", err
		}
		path = p
	}

	cfg, err := registry.LoadConfig(path)
	if err != nil {
		return "", err
	}

	sim := simulator.NewAnalyzer(simulator.DefaultIdentity, log.StandardLogger())
	sim.Load(cfg)
	sim.SetScientific(true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	wg.Add(1)
	go func() {
		if err := sim.Serve(ctx, ln); err != nil {
			log.Errorf("Simulator failed: %v", err)
		}
		wg.Done()
		log.Debug("Simulator stopped")
	}()

	log.Infof("Simulating %s on %s", cfg.DeviceName, ln.Addr())
	return ln.Addr().String(), nil
}

func main() {
	app := cli.App{
		Name:  "specan",
		Usage: "Spectrum analyzer setting control server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
				Value:   false,
				EnvVars: []string{"DEBUG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   8090,
				EnvVars: []string{"SPECAN_PORT"},
			},
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Instrument address (VISA TCPIP resource or host[:port])",
				EnvVars: []string{"SPECAN_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Device configuration file, skips identification by catalog",
				EnvVars: []string{"SPECAN_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "Device catalog mapping *IDN? answers to configurations",
				Value:   "configs/catalog.json",
				EnvVars: []string{"SPECAN_CATALOG"},
			},
			&cli.BoolFlag{
				Name:    "simulate",
				Usage:   "Run against a simulated instrument",
				EnvVars: []string{"SPECAN_SIMULATE"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Preset database file",
				Value:   "specan.db",
				EnvVars: []string{"SPECAN_DB"},
			},
			&cli.BoolFlag{
				Name:    "reset",
				Usage:   "Reset the instrument (*RST) after connecting",
				Value:   true,
				EnvVars: []string{"SPECAN_RESET"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Usage:   "Instrument I/O timeout",
				Value:   scpi.DefaultTimeout,
				EnvVars: []string{"SPECAN_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "mqtt-broker",
				Usage:   "MQTT broker URL for publishing results, e.g. tcp://localhost:1883",
				EnvVars: []string{"MQTT_BROKER"},
			},
			&cli.StringFlag{
				Name:    "mqtt-topic",
				Usage:   "MQTT topic root",
				Value:   "specan",
				EnvVars: []string{"MQTT_TOPIC"},
			},
			&cli.StringFlag{
				Name:    "mqtt-username",
				Usage:   "MQTT username",
				EnvVars: []string{"MQTT_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "mqtt-password",
				Usage:   "MQTT password",
				EnvVars: []string{"MQTT_PASSWORD"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
