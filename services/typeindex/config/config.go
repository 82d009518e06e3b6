// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the alias index configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation and decoding failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// configValidate is the shared validator instance.
var configValidate = validator.New()

// Config is the top-level configuration.
type Config struct {
	// WorkspaceRoot is the directory that is indexed. Units are paths
	// relative to it.
	WorkspaceRoot string `yaml:"workspace_root" validate:"required"`

	// Extensions are the file extensions treated as source units.
	Extensions []string `yaml:"extensions" validate:"required,min=1,dive,startswith=."`

	// ExcludeDirs are directory names skipped during the walk.
	ExcludeDirs []string `yaml:"exclude_dirs" validate:"dive,required"`

	Storage   StorageConfig   `yaml:"storage"`
	Query     QueryConfig     `yaml:"query"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects and tunes the index store.
type StorageConfig struct {
	// Path is the badger directory. Relative paths are resolved against
	// WorkspaceRoot. Required unless InMemory is set.
	Path string `yaml:"path"`

	// InMemory keeps the index in memory only.
	InMemory bool `yaml:"in_memory"`

	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

// QueryConfig tunes candidate queries.
type QueryConfig struct {
	// Cutoff is the largest raw candidate count that is still filtered.
	Cutoff int `yaml:"cutoff" validate:"gte=1,lte=10000"`
}

// IndexerConfig tunes the workspace indexer.
type IndexerConfig struct {
	Concurrency int           `yaml:"concurrency" validate:"gte=1,lte=256"`
	MaxFileSize int64         `yaml:"max_file_size" validate:"gte=1"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		WorkspaceRoot: ".",
		Extensions:    []string{".rs"},
		ExcludeDirs:   []string{".git", "target", "node_modules", ".aliasindex"},
		Storage: StorageConfig{
			Path:       filepath.Join(".aliasindex", "db"),
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Query: QueryConfig{Cutoff: 10},
		Indexer: IndexerConfig{
			Concurrency: 4,
			MaxFileSize: 10 * 1024 * 1024,
			Debounce:    250 * time.Millisecond,
		},
		Server:    ServerConfig{Port: 12218},
		Telemetry: TelemetryConfig{MetricExporter: "prometheus", TraceExporter: "none"},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file on top of Default and validates the result.
//
// Description:
//
//	Fields missing from the file keep their default value. An empty path
//	returns the validated defaults.
//
// Outputs:
//
//	Config - The merged configuration.
//	error  - Wraps ErrInvalidConfig for malformed YAML or failed validation;
//	         file system errors are returned wrapped as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write saves cfg as YAML, creating the parent directory.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks struct tags and cross-field rules.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required unless storage.in_memory is set", ErrInvalidConfig)
	}
	return nil
}

// StoragePath returns the absolute badger directory.
func (c Config) StoragePath() string {
	if filepath.IsAbs(c.Storage.Path) {
		return c.Storage.Path
	}
	return filepath.Join(c.WorkspaceRoot, c.Storage.Path)
}
