// Package config holds the settings of the mcserv binary: defaults, a TOML
// file and command line flags, in increasing order of precedence.
package config

import (
	"flag"
	"io"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"badc0de.net/pkg/go-mcproto/frame"
)

type Config struct {
	Listen string `toml:"listen"`
	// DebugListen serves the debug handlers and metrics; empty disables it.
	DebugListen string `toml:"debug_listen"`

	MOTD       string `toml:"motd"`
	MaxPlayers int    `toml:"max_players"`
	// Favicon is the path of a 64x64 PNG.
	Favicon string `toml:"favicon"`
	// FallbackVersion is the protocol number advertised to clients that
	// cannot join.
	FallbackVersion int32 `toml:"fallback_version"`

	MaxConnections   int           `toml:"max_connections"`
	OutboxSize       int           `toml:"outbox_size"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout"`

	// CompressionThreshold below zero disables compression.
	CompressionThreshold int  `toml:"compression_threshold"`
	Encryption           bool `toml:"encryption"`
	// KeyFile is a PEM RSA key. When empty a key is generated at startup.
	KeyFile string `toml:"key_file"`

	KeepAlive        time.Duration `toml:"keep_alive"`
	KeepAliveTimeout time.Duration `toml:"keep_alive_timeout"`
	// Kick disconnects players with this message once they are in play.
	Kick string `toml:"kick"`

	flags []string
}

func Default() Config {
	return Config{
		Listen:               ":25565",
		DebugListen:          "localhost:8080",
		MOTD:                 "A go-mcproto server",
		MaxPlayers:           20,
		OutboxSize:           64,
		HandshakeTimeout:     10 * time.Second,
		CompressionThreshold: 256,
		Encryption:           true,
		KeepAlive:            15 * time.Second,
		KeepAliveTimeout:     30 * time.Second,
	}
}

// RegisterFlags binds flags to c's fields, with c's values as defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	c.flags = nil
	str := func(p *string, name, usage string) {
		fs.StringVar(p, name, *p, usage)
		c.flags = append(c.flags, name)
	}
	num := func(p *int, name, usage string) {
		fs.IntVar(p, name, *p, usage)
		c.flags = append(c.flags, name)
	}
	dur := func(p *time.Duration, name, usage string) {
		fs.DurationVar(p, name, *p, usage)
		c.flags = append(c.flags, name)
	}
	str(&c.Listen, "listen", "address to accept game connections on")
	str(&c.DebugListen, "debug_listen", "address of the debug HTTP server; empty disables it")
	str(&c.MOTD, "motd", "description shown in the server list")
	num(&c.MaxPlayers, "max_players", "player limit shown in the server list")
	str(&c.Favicon, "favicon", "path of a 64x64 PNG shown in the server list")
	num(&c.MaxConnections, "max_connections", "concurrent connection limit; 0 means none")
	dur(&c.HandshakeTimeout, "handshake_timeout", "close connections that send no handshake in this time")
	num(&c.CompressionThreshold, "compression_threshold", "compress packets of at least this many bytes; negative disables")
	fs.BoolVar(&c.Encryption, "encryption", c.Encryption, "send an encryption request during login")
	c.flags = append(c.flags, "encryption")
	str(&c.KeyFile, "key_file", "PEM RSA key for encryption; generated when empty")
	dur(&c.KeepAlive, "keep_alive", "keep-alive interval in play; 0 disables")
	str(&c.Kick, "kick", "disconnect players with this message once they are in play")
}

// Load reads a TOML file over c. Flags registered by RegisterFlags that were
// set on fs keep their command line values. Unknown keys are an error.
func (c *Config) Load(path string, fs *flag.FlagSet) error {
	set := make(map[string]string)
	if fs != nil {
		fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}
	if u := md.Undecoded(); len(u) > 0 {
		return errors.Errorf("%s: unknown keys %v", path, u)
	}
	for _, name := range c.flags {
		if v, ok := set[name]; ok {
			if err := fs.Set(name, v); err != nil {
				return errors.Wrapf(err, "reapplying -%s", name)
			}
		}
	}
	return nil
}

// Write encodes c as TOML.
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen address is empty")
	case c.MaxPlayers < 0:
		return errors.Errorf("max_players %d is negative", c.MaxPlayers)
	case c.MaxConnections < 0:
		return errors.Errorf("max_connections %d is negative", c.MaxConnections)
	case c.OutboxSize < 0:
		return errors.Errorf("outbox_size %d is negative", c.OutboxSize)
	case c.FallbackVersion < 0:
		return errors.Errorf("fallback_version %d is negative", c.FallbackVersion)
	case c.HandshakeTimeout < 0, c.KeepAlive < 0, c.KeepAliveTimeout < 0:
		return errors.New("durations must not be negative")
	case c.CompressionThreshold > frame.MaxFrameLength:
		return errors.Errorf("compression_threshold %d exceeds the frame size", c.CompressionThreshold)
	case c.KeyFile != "" && !c.Encryption:
		return errors.New("key_file is set but encryption is off")
	}
	return nil
}
