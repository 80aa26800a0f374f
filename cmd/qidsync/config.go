// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bot's site and run configuration, read from a YAML
// file. Credentials are deliberately not part of it, so config files
// can be committed; they come from the environment instead.
type Config struct {
	// Site is the wiki's api.php endpoint,
	// for example https://meta.miraheze.org/w/api.php.
	Site      string `yaml:"site"`
	UserAgent string `yaml:"user-agent"`

	// Category whose member pages form the reconciliation corpus.
	Category string `yaml:"category"`

	// ReportPage receives the on-wiki duplicates report.
	// Empty disables the report.
	ReportPage string `yaml:"report-page"`

	// TagConflicts controls whether sweeps add the tracking category
	// to pages that reference several different items.
	TagConflicts bool `yaml:"tag-conflicts"`

	// WorkDir holds locally built artifacts and run statistics.
	WorkDir string `yaml:"workdir"`

	// Keyfile is the path to the S3 credentials file.
	// Empty disables uploads.
	Keyfile string `yaml:"keyfile"`

	// Throttle is the minimum delay between successive page writes.
	Throttle time.Duration `yaml:"throttle"`
}

func DefaultConfig() *Config {
	return &Config{
		UserAgent:    "qidsync/0.1 (https://github.com/emmabot/qidsync; run by EmmaBot)",
		Category:     "Pages with Wikidata links",
		ReportPage:   "User:EmmaBot/Wikidata duplicates",
		TagConflicts: true,
		WorkDir:      "cache",
		Throttle:     6 * time.Second,
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty
// path returns the defaults unchanged; commands that talk to a wiki
// reject a missing site themselves.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Credentials returns the bot account's login from the environment.
func Credentials() (username, password string, err error) {
	username = os.Getenv("QIDSYNC_USERNAME")
	password = os.Getenv("QIDSYNC_PASSWORD")
	if username == "" || password == "" {
		return "", "", fmt.Errorf("QIDSYNC_USERNAME and QIDSYNC_PASSWORD must be set")
	}
	return username, password, nil
}
