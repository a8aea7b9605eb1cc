// Command lwm2m-client is a reference LWM2M client.
//
// It bootstraps credentials when a bootstrap server is configured,
// registers the standard Device and Server objects plus a sample
// application object, keeps the registration alive, and deregisters
// cleanly on shutdown.
//
// Usage:
//
//	lwm2m-client [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-endpoint string   Endpoint name (default "lwm2m-endpoint")
//	-server string     LWM2M server URI, e.g. coap://127.0.0.1:5683
//	-bootstrap string  Bootstrap server URI; enables bootstrapping
//	-lifetime int      Registration lifetime in seconds (default 3600)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-event-log string  Capture protocol events to a CBOR file
//	-interactive       Drop into an interactive prompt
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lwm2m-protocol/lwm2m-go/pkg/client"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/log"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/model"
	"github.com/lwm2m-protocol/lwm2m-go/pkg/persistence"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "lwm2m-client:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath   = flag.String("config", "", "configuration file path")
		endpoint     = flag.String("endpoint", "", "endpoint name")
		serverURI    = flag.String("server", "", "LWM2M server URI")
		bootstrapURI = flag.String("bootstrap", "", "bootstrap server URI")
		lifetime     = flag.Int64("lifetime", 0, "registration lifetime in seconds")
		logLevel     = flag.String("log-level", "info", "log level: debug, info, warn, error")
		eventLog     = flag.String("event-log", "", "protocol event capture file")
		interactive  = flag.Bool("interactive", false, "interactive mode")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *serverURI != "" {
		cfg.ServerURI = *serverURI
	}
	if *bootstrapURI != "" {
		cfg.BootstrapURI = *bootstrapURI
	}
	if *lifetime > 0 {
		cfg.Lifetime = *lifetime
	}
	if *eventLog != "" {
		cfg.EventLog = *eventLog
	}
	if cfg.ServerURI == "" && cfg.BootstrapURI == "" {
		return fmt.Errorf("either -server or -bootstrap is required")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))

	protocolLogger := log.Discard
	if cfg.EventLog != "" {
		capture, err := log.NewCapture(cfg.EventLog)
		if err != nil {
			return err
		}
		defer capture.Close()
		protocolLogger = capture
	}

	app := &app{
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}

	c, err := client.New(app, client.Config{
		Endpoint: model.Endpoint{
			Name:     cfg.Endpoint,
			Type:     cfg.Type,
			Lifetime: cfg.Lifetime,
			Domain:   cfg.Domain,
			Binding:  model.BindingUDP,
		},
		Logger:         logger,
		ProtocolLogger: protocolLogger,
	})
	if err != nil {
		return err
	}
	app.client = c

	if err := app.buildObjects(); err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}
	defer c.Stop()

	if *interactive {
		return app.runInteractive()
	}
	return app.runOnce()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app wires the observer callbacks to the harness flow.
type app struct {
	cfg    fileConfig
	logger *slog.Logger
	client *client.Interface

	security  *model.Security
	bootstrap *model.Security
	device    *model.Device
	server    *model.Server
	appObject *model.Object
	store     *persistence.SecurityStore

	done chan struct{}
}

// buildObjects creates the object set the client registers.
func (a *app) buildObjects() error {
	var err error

	if a.cfg.BootstrapURI != "" {
		a.bootstrap, err = a.client.NewSecurity(model.BootstrapServer)
		if err != nil {
			return err
		}
		if err := a.bootstrap.SetServerURI(a.cfg.BootstrapURI); err != nil {
			return err
		}
		if err := a.bootstrap.SetMode(model.SecurityNoSec); err != nil {
			return err
		}
	}
	if a.cfg.ServerURI != "" {
		a.security, err = a.client.NewSecurity(model.ManagementServer)
		if err != nil {
			return err
		}
		if err := a.security.SetServerURI(a.cfg.ServerURI); err != nil {
			return err
		}
		if err := a.security.SetMode(model.SecurityNoSec); err != nil {
			return err
		}
	}

	a.device, err = a.client.NewDevice(model.DeviceInfo{
		Manufacturer:    a.cfg.Device.Manufacturer,
		ModelNumber:     a.cfg.Device.ModelNumber,
		SerialNumber:    a.cfg.Device.SerialNumber,
		FirmwareVersion: a.cfg.Device.FirmwareVersion,
	})
	if err != nil {
		return err
	}
	a.device.OnReboot(func([]byte) {
		a.logger.Info("server requested reboot")
	})

	a.server, err = a.client.NewServer(123)
	if err != nil {
		return err
	}

	a.appObject, err = a.client.NewObject(42, "demo")
	if err != nil {
		return err
	}
	inst, err := a.appObject.CreateInstance(0)
	if err != nil {
		return err
	}
	r, err := inst.AddResource(model.ResourceMetadata{
		ID:         1,
		Name:       "value",
		Type:       model.TypeString,
		Operations: model.OpReadWrite,
		Observable: true,
	})
	if err != nil {
		return err
	}
	if err := r.SetValue("MyValue"); err != nil {
		return err
	}

	if a.cfg.SecurityFile != "" {
		a.store = persistence.NewSecurityStore(a.cfg.SecurityFile)
	}
	return nil
}

func (a *app) objects() []*model.Object {
	return []*model.Object{a.device.Object(), a.server.Object(), a.appObject}
}

// runOnce drives bootstrap (when configured) and registration, then stays
// registered until interrupted.
func (a *app) runOnce() error {
	if a.bootstrap != nil {
		a.logger.Info("bootstrapping", "uri", a.cfg.BootstrapURI)
		a.client.Bootstrap(a.bootstrap)
	} else {
		a.logger.Info("registering", "uri", a.cfg.ServerURI)
		a.client.Register(a.security, a.objects())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		a.logger.Info("shutting down, deregistering")
		a.client.Unregister()
		select {
		case <-a.done:
		case <-time.After(10 * time.Second):
			a.logger.Warn("deregistration timed out")
		}
	case <-a.done:
	}
	return nil
}

// Observer callbacks. They run on the engine loop, so hand off and return.

func (a *app) BootstrapDone(security *model.Security) {
	a.logger.Info("bootstrap done", "server_uri", security.ServerURI())
	a.security = security
	if a.store != nil {
		if obj, ok := a.client.Engine().Tree().Object(model.ObjectIDSecurity); ok {
			if err := a.store.Save(obj); err != nil {
				a.logger.Warn("security persist failed", "error", err)
			}
		}
	}
	go a.client.Register(security, a.objects())
}

func (a *app) ObjectRegistered() {
	a.logger.Info("registered")
}

func (a *app) RegistrationUpdated() {
	a.logger.Info("registration updated")
}

func (a *app) ObjectUnregistered() {
	a.logger.Info("deregistered")
	close(a.done)
}

func (a *app) ValueUpdated(path model.Path) {
	a.logger.Info("value updated", "path", path.String())
}

func (a *app) Error(kind client.ErrorKind, err error) {
	a.logger.Error("client error", "kind", kind.String(), "error", err)
}
