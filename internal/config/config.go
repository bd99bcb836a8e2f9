// Package config parses the daemon's connection-string and proxies-file
// inputs into typed settings, per the key=value;key=value grammar and the
// line-oriented protocol://[user[:pass]@]host:port proxy file format.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"codeberg.org/gruf/go-kv"
	"codeberg.org/gruf/go-logger/v2/log"
)

const (
	DefaultBindAddr         = "127.0.0.1"
	DefaultBindPort         = 65432
	DefaultNrProxies        = 20
	DefaultNrPrepareThreads = 1
	DefaultProxiesFile      = "proxies.json"

	minBindPort         = 100
	minNrProxies        = 2
	maxNrProxies        = 50
	maxNrPrepareThreads = 50
)

// Config is the daemon's validated startup configuration.
type Config struct {
	BindAddr         string
	BindPort         uint16
	NrProxies        uint8
	NrPrepareThreads uint8
	ProxiesFile      string
	Proxies          []ProxyDescriptor
}

// Parse parses a "key=value;key=value;..." connection string, validates it
// against the daemon's defaults and bounds, then loads and parses the
// proxies file it names. Unknown keys are ignored; an empty key or value in
// a setting is logged and skipped; the last occurrence of a recognized key
// wins.
func Parse(connStr string) (Config, error) {
	settings := parseKeyVals(connStr)

	bindAddr := strings.TrimSpace(lastValue(settings, "bind_addr", DefaultBindAddr))

	bindPort, err := parseUintSetting(settings, "bind_port", DefaultBindPort, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid bind_port: %w", err)
	}

	nrProxies, err := parseUintSetting(settings, "nr_proxies", DefaultNrProxies, 8)
	if err != nil {
		return Config{}, fmt.Errorf("invalid nr_proxies: %w", err)
	}

	nrPrepareThreads, err := parseUintSetting(settings, "nr_prepare_threads", DefaultNrPrepareThreads, 8)
	if err != nil {
		return Config{}, fmt.Errorf("invalid nr_prepare_threads: %w", err)
	}

	proxiesFile := strings.TrimSpace(lastValue(settings, "proxies_file", DefaultProxiesFile))

	if net.ParseIP(bindAddr) == nil {
		return Config{}, errors.New("invalid IP address specified for bind_addr")
	}
	if bindPort < minBindPort {
		return Config{}, errors.New("invalid port specified")
	}
	if nrProxies < minNrProxies || nrProxies > maxNrProxies {
		return Config{}, errors.New("invalid nr_proxies specified")
	}
	if nrPrepareThreads > maxNrPrepareThreads {
		return Config{}, errors.New("invalid nr_prepare_threads specified")
	}

	lines, err := readLines(proxiesFile)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read proxies file %q: %w", proxiesFile, err)
	}

	proxies, err := ParseProxiesFile(lines)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse proxies file %q: %w", proxiesFile, err)
	}

	return Config{
		BindAddr:         bindAddr,
		BindPort:         uint16(bindPort),
		NrProxies:        uint8(nrProxies),
		NrPrepareThreads: uint8(nrPrepareThreads),
		ProxiesFile:      proxiesFile,
		Proxies:          proxies,
	}, nil
}

// parseKeyVals splits a connection string on ';' and each setting once on
// '=', dropping settings with an empty key or value.
func parseKeyVals(connStr string) []kv.Field {
	var settings []kv.Field

	for _, setting := range strings.Split(connStr, ";") {
		key, val, ok := strings.Cut(setting, "=")
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if !ok || key == "" || val == "" {
			if setting != "" {
				log.WarnKVs(kv.Field{K: "setting", V: setting}, kv.Field{K: "msg", V: "empty key or value, skipping"})
			}
			continue
		}
		settings = append(settings, kv.Field{K: key, V: val})
	}

	return settings
}

// lastValue returns the value of the last occurrence of key, or def if key
// is not present.
func lastValue(settings []kv.Field, key, def string) string {
	val := def
	for _, s := range settings {
		if s.K == key {
			val, _ = s.V.(string)
		}
	}
	return val
}

// parseUintSetting parses the last occurrence of key as an unsigned integer
// of the given bit size, returning def if the key is absent.
func parseUintSetting(settings []kv.Field, key string, def uint64, bitSize int) (uint64, error) {
	raw, present := "", false
	for _, s := range settings {
		if s.K == key {
			raw, _ = s.V.(string)
			present = true
		}
	}
	if !present {
		return def, nil
	}
	return strconv.ParseUint(strings.TrimSpace(raw), 10, bitSize)
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\n"), nil
}
