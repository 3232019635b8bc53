// Command mcping queries a Minecraft server's status: it prints the status
// document, measures the ping latency, and optionally logs in with an offline
// name to see whether the server lets it play.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"badc0de.net/pkg/flagutil/v1"
	"github.com/bradfitz/iter"
	"github.com/golang/glog"
	"github.com/gookit/color"

	"badc0de.net/pkg/go-mcproto/conn"
	"badc0de.net/pkg/go-mcproto/login"
	"badc0de.net/pkg/go-mcproto/packets"
	"badc0de.net/pkg/go-mcproto/protocol"
	"badc0de.net/pkg/go-mcproto/status"
)

var (
	version  = flag.Int("protocol", int(protocol.V1_21), "protocol version to handshake with")
	count    = flag.Int("count", 1, "number of status exchanges")
	interval = flag.Duration("interval", time.Second, "pause between status exchanges")
	timeout  = flag.Duration("timeout", 5*time.Second, "time limit of each exchange")
	rawJSON  = flag.Bool("json", false, "print the status document as the server sent it")
	favicon  = flag.String("favicon", "24bit", "how to draw the favicon: graphics, iterm, 24bit, 256, none or off")
	banner   = flag.Bool("banner", false, "print the first line of the description as a banner")
	noColor  = flag.Bool("no_color", false, "disable colored output")
	loginAs  = flag.String("login", "", "after pinging, log in with this offline name")
)

func main() {
	flagutil.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mcping [flags] host[:port]")
		os.Exit(2)
	}
	if *noColor {
		color.Enable = false
	}

	t, err := status.ParseTarget(flag.Arg(0), protocol.Version(*version))
	if err != nil {
		glog.Exitf("%v", err)
	}
	reg, err := packets.NewRegistry()
	if err != nil {
		glog.Exitf("building the packet registry: %v", err)
	}
	cfg := conn.Config{Registry: reg}
	p := printer{w: os.Stdout, noColor: *noColor}

	failed := 0
	shown := false
	for i := range iter.N(*count) {
		if i > 0 {
			time.Sleep(*interval)
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		res, err := status.Ping(ctx, t, cfg)
		cancel()
		if err != nil {
			p.errorf("ping %d: %v", i, err)
			failed++
			continue
		}
		if !shown {
			shown = true
			if *rawJSON {
				fmt.Println(res.JSON)
			} else {
				p.status(t, res, *banner, *favicon)
			}
		}
		p.latency(i, res.Latency)
	}

	if *loginAs != "" {
		if err := join(p, t, cfg); err != nil {
			p.errorf("login: %v", err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// join logs in and leaves as soon as the server lets the client play.
func join(p printer, t status.Target, cfg conn.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", t.Addr())
	if err != nil {
		return err
	}
	res, err := login.Join(ctx, nc, login.ClientConfig{
		Name:    *loginAs,
		Host:    t.Host,
		Port:    t.Port,
		Version: t.Version,
		Brand:   "mcping",
		OnJoin: func(c *conn.Conn) {
			c.Disconnect(nil)
		},
	}, cfg)
	if res != nil {
		p.login(res)
	}
	return err
}
