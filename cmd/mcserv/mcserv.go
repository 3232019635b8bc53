// Command mcserv accepts Minecraft connections: it answers server list pings
// and logs players in (offline mode) on every supported protocol version.
package main

import (
	"bytes"
	"context"
	"flag"
	"image"
	_ "image/png"
	"net/http"
	"os"
	"os/signal"
	"time"

	"badc0de.net/pkg/flagutil/v1"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vincent-petithory/dataurl"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"badc0de.net/pkg/go-mcproto/config"
	"badc0de.net/pkg/go-mcproto/conn"
	"badc0de.net/pkg/go-mcproto/login"
	"badc0de.net/pkg/go-mcproto/metrics"
	"badc0de.net/pkg/go-mcproto/packets"
	"badc0de.net/pkg/go-mcproto/pipeline"
	"badc0de.net/pkg/go-mcproto/protocol"
	"badc0de.net/pkg/go-mcproto/secrets"
	"badc0de.net/pkg/go-mcproto/status"
	"badc0de.net/pkg/go-mcproto/web"
)

var (
	configPath = flag.String("config", "", "TOML configuration file; flags override it")
	dumpConfig = flag.Bool("dump_config", false, "print the effective configuration and exit")
	devKey     = flag.Bool("dev_key", false, "use the well-known development key instead of generating one")
)

// sampleSize bounds the player sample in the status document.
const sampleSize = 12

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	flagutil.Parse()

	if *configPath != "" {
		if err := cfg.Load(*configPath, flag.CommandLine); err != nil {
			glog.Exitf("%v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		glog.Exitf("invalid configuration: %v", err)
	}
	if *dumpConfig {
		if err := cfg.Write(os.Stdout); err != nil {
			glog.Exitf("%v", err)
		}
		return
	}

	if err := run(cfg); err != nil {
		glog.Exitf("%v", err)
	}
}

func run(cfg config.Config) error {
	glog.Infoln("starting mcserv services")

	reg, err := packets.NewRegistry()
	if err != nil {
		return errors.Wrap(err, "building the packet registry")
	}
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	var key *secrets.Key
	if cfg.Encryption {
		if key, err = loadKey(cfg.KeyFile); err != nil {
			return err
		}
	}
	favicon, err := loadFavicon(cfg.Favicon)
	if err != nil {
		return err
	}

	lg := login.NewServer(login.Config{
		Key:                  key,
		CompressionThreshold: cfg.CompressionThreshold,
		KeepAlive:            cfg.KeepAlive,
		KeepAliveTimeout:     cfg.KeepAliveTimeout,
		Kick:                 cfg.Kick,
	})
	st := status.NewResponder(status.Config{
		MOTD:       cfg.MOTD,
		MaxPlayers: cfg.MaxPlayers,
		Favicon:    favicon,
		Fallback:   protocol.Version(cfg.FallbackVersion),
		Players: func() (int, []status.Player) {
			players := lg.Players()
			var sample []status.Player
			for _, p := range players {
				if len(sample) == sampleSize {
					break
				}
				sample = append(sample, status.Player{Name: p.Name, ID: p.UUID.String()})
			}
			return len(players), sample
		},
	})

	srv := conn.NewServer(conn.Config{
		Registry:         reg,
		Sink:             pipeline.NewErrorSink(m),
		Metrics:          m,
		OutboxSize:       cfg.OutboxSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		MaxConns:         cfg.MaxConnections,
	}, func(c *conn.Conn) pipeline.Receiver {
		return conn.NewMux().
			Handle(st.Receiver(c), protocol.Status).
			Handle(lg.Receiver(c), protocol.Login, protocol.Configuration, protocol.Play)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Listen)
	})

	if cfg.DebugListen != "" {
		hs := &http.Server{
			Addr:    cfg.DebugListen,
			Handler: web.NewHandler(srv, lg, reg, promReg).Router(),
		}
		g.Go(func() error {
			glog.Infof("debug server listening on %s", cfg.DebugListen)
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(err, "debug server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	err = g.Wait()
	glog.Infoln("mcserv stopped")
	return err
}

func loadKey(path string) (*secrets.Key, error) {
	switch {
	case path != "":
		return secrets.Load(path)
	case *devKey:
		glog.Warningln("using the development key; do not expose this server")
		return secrets.DevelopmentKey()
	}
	return secrets.Generate()
}

// loadFavicon reads a 64x64 PNG and returns it as a data URI.
func loadFavicon(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "reading favicon")
	}
	ic, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return "", errors.Wrapf(err, "decoding favicon %s", path)
	}
	if format != "png" || ic.Width != 64 || ic.Height != 64 {
		return "", errors.Errorf("favicon %s is a %dx%d %s, want a 64x64 png", path, ic.Width, ic.Height, format)
	}
	return dataurl.New(b, "image/png").String(), nil
}
