// Copyright 2026 The Membrane ICE Authors
// SPDX-License-Identifier: Apache-2.0

package ice

import (
	"fmt"
	"os"

	"github.com/pion/stun/v3"
	"gopkg.in/yaml.v3"
)

// Config holds ICE server settings for an endpoint. The zero value is
// usable: host candidates only, which is sufficient for same-machine
// and same-LAN connectivity.
type Config struct {
	// STUNServers lists STUN URIs for server-reflexive candidates,
	// e.g. "stun:stun.l.google.com:19302".
	STUNServers []string `yaml:"stun_servers"`

	// TURNServers lists relay servers with credentials.
	TURNServers []TURNServer `yaml:"turn_servers"`

	// IncludeLoopback admits loopback interfaces into candidate
	// gathering. Required for same-machine transport and test
	// environments where loopback is the only interface.
	IncludeLoopback bool `yaml:"include_loopback"`
}

// TURNServer is one relay server entry.
type TURNServer struct {
	// URI is the TURN URI, e.g. "turn:turn.example.net:3478?transport=udp".
	URI string `yaml:"uri"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoadConfig reads a YAML config from the given path. There is no
// discovery or fallback: the path must exist and parse.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading ICE config: %w", err)
	}
	var config Config
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, fmt.Errorf("parsing ICE config %s: %w", path, err)
	}
	return config, nil
}

// ServerURIs converts the configured servers into pion URI form for
// the agent. TURN entries carry their credentials on the URI.
func (c Config) ServerURIs() ([]*stun.URI, error) {
	var uris []*stun.URI

	for _, server := range c.STUNServers {
		uri, err := stun.ParseURI(server)
		if err != nil {
			return nil, fmt.Errorf("parsing STUN URI %q: %w", server, err)
		}
		uris = append(uris, uri)
	}

	for _, server := range c.TURNServers {
		uri, err := stun.ParseURI(server.URI)
		if err != nil {
			return nil, fmt.Errorf("parsing TURN URI %q: %w", server.URI, err)
		}
		uri.Username = server.Username
		uri.Password = server.Password
		uris = append(uris, uri)
	}

	return uris, nil
}
