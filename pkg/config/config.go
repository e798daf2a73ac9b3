// Package config loads and reloads the node's key=value configuration
// file, enumerating exactly the recognized keys from §6: port,
// tracker_port, interface_port, tracker, external_address, tpot_timeout,
// tpot_read_timeout, request_timeout, meeting_timeout, profiles_dir.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config is the node's typed, parsed configuration. Unlike the original
// string-keyed map, every recognized key gets its own typed field;
// accessors elsewhere never touch the raw string form again.
type Config struct {
	Port          int
	TrackerPort   int
	InterfacePort int
	Tracker       string
	// ExternalAddress is either "auto" (detect via the NAT port mapping
	// helper, out of scope here) or an explicit "host:port".
	ExternalAddress string

	TpotTimeout     time.Duration
	TpotReadTimeout time.Duration
	RequestTimeout  time.Duration
	MeetingTimeout  time.Duration

	ProfilesDir string
}

// Defaults returns the documented default configuration.
func Defaults() Config {
	return Config{
		Port:            8480,
		TrackerPort:     8488,
		InterfacePort:   8080,
		Tracker:         "teapotnet.org",
		ExternalAddress: "auto",
		TpotTimeout:     15 * time.Second,
		TpotReadTimeout: 60 * time.Second,
		RequestTimeout:  10 * time.Second,
		MeetingTimeout:  15 * time.Second,
		ProfilesDir:     "profiles",
	}
}

// recognizedKeys enumerates every key Load will act on; anything else in
// the file is logged and otherwise ignored, matching the "enumerated
// recognized keys" wording of §6 rather than accepting arbitrary keys.
var recognizedKeys = map[string]bool{
	"port": true, "tracker_port": true, "interface_port": true,
	"tracker": true, "external_address": true,
	"tpot_timeout": true, "tpot_read_timeout": true,
	"request_timeout": true, "meeting_timeout": true,
	"profiles_dir": true,
}

// Load reads path as a sequence of "key = value" lines (blank lines and
// lines starting with # are skipped) on top of Defaults(). A missing file
// is not an error: the defaults are returned as-is, matching the
// original's "log and continue with defaults" behavior on a load failure.
func Load(path string) (Config, error) {
	cfg := Defaults()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Debug("config: no file, using defaults")
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	if err := cfg.applyLines(f); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) applyLines(f *os.File) error {
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return fmt.Errorf("config: line %d: expected key=value", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if !recognizedKeys[key] {
			log.WithField("key", key).Warn("config: unrecognized key, ignoring")
			continue
		}
		if err := cfg.set(key, value); err != nil {
			return fmt.Errorf("config: line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

func (cfg *Config) set(key, value string) error {
	switch key {
	case "port":
		return setInt(&cfg.Port, value)
	case "tracker_port":
		return setInt(&cfg.TrackerPort, value)
	case "interface_port":
		return setInt(&cfg.InterfacePort, value)
	case "tracker":
		cfg.Tracker = value
	case "external_address":
		cfg.ExternalAddress = value
	case "tpot_timeout":
		return setMillis(&cfg.TpotTimeout, value)
	case "tpot_read_timeout":
		return setMillis(&cfg.TpotReadTimeout, value)
	case "request_timeout":
		return setMillis(&cfg.RequestTimeout, value)
	case "meeting_timeout":
		return setMillis(&cfg.MeetingTimeout, value)
	case "profiles_dir":
		cfg.ProfilesDir = value
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setMillis(dst *time.Duration, value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
