package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML configuration for the example client.
type fileConfig struct {
	// Endpoint is the endpoint name advertised to the server.
	Endpoint string `yaml:"endpoint"`

	// Type is the endpoint type.
	Type string `yaml:"type"`

	// Lifetime is the registration lifetime in seconds.
	Lifetime int64 `yaml:"lifetime"`

	// Domain is the optional endpoint domain.
	Domain string `yaml:"domain"`

	// ServerURI is the LWM2M server, e.g. coap://127.0.0.1:5683.
	ServerURI string `yaml:"server_uri"`

	// BootstrapURI enables bootstrapping before registration when set.
	BootstrapURI string `yaml:"bootstrap_uri"`

	// Device seeds the standard Device object.
	Device deviceConfig `yaml:"device"`

	// SecurityFile persists provisioned credentials when set.
	SecurityFile string `yaml:"security_file"`

	// EventLog captures protocol events to a CBOR file when set.
	EventLog string `yaml:"event_log"`
}

type deviceConfig struct {
	Manufacturer    string `yaml:"manufacturer"`
	ModelNumber     string `yaml:"model_number"`
	SerialNumber    string `yaml:"serial_number"`
	FirmwareVersion string `yaml:"firmware_version"`
}

// defaults mirror the values the reference harness was exercised with.
func defaultConfig() fileConfig {
	return fileConfig{
		Endpoint: "lwm2m-endpoint",
		Type:     "test",
		Lifetime: 3600,
		Device: deviceConfig{
			Manufacturer: "acme",
			ModelNumber:  "2015",
			SerialNumber: "12345",
		},
	}
}

// loadConfig reads path over the defaults.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
