package main

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/gookit/color"
	"github.com/vincent-petithory/dataurl"

	"badc0de.net/pkg/go-mcproto/imageprint"
	"badc0de.net/pkg/go-mcproto/login"
	"badc0de.net/pkg/go-mcproto/status"
)

// codeColors maps legacy formatting codes to terminal colors.
var codeColors = map[byte]color.Color{
	'0': color.FgBlack,
	'1': color.FgBlue,
	'2': color.FgGreen,
	'3': color.FgCyan,
	'4': color.FgRed,
	'5': color.FgMagenta,
	'6': color.FgYellow,
	'7': color.FgWhite,
	'8': color.FgDarkGray,
	'9': color.FgLightBlue,
	'a': color.FgLightGreen,
	'b': color.FgLightCyan,
	'c': color.FgLightRed,
	'd': color.FgLightMagenta,
	'e': color.FgLightYellow,
	'f': color.FgLightWhite,
}

type printer struct {
	w       io.Writer
	noColor bool
}

func (p printer) paint(c color.Color, format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	if !p.noColor {
		s = c.Sprint(s)
	}
	fmt.Fprint(p.w, s)
}

func (p printer) label(name string) {
	p.paint(color.OpBold, "%-10s", name)
}

func (p printer) motd(text string) {
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprint(p.w, "  ")
		for _, sp := range status.Spans(line) {
			c, ok := codeColors[sp.Code]
			if !ok || p.noColor {
				fmt.Fprint(p.w, sp.Text)
				continue
			}
			fmt.Fprint(p.w, c.Sprint(sp.Text))
		}
		fmt.Fprintln(p.w)
	}
}

func plain(text string) string {
	var sb strings.Builder
	for _, sp := range status.Spans(text) {
		sb.WriteString(sp.Text)
	}
	return sb.String()
}

func (p printer) status(t status.Target, res *status.Result, banner bool, mode string) {
	d := &res.Document
	if banner {
		first := strings.SplitN(plain(d.Text()), "\n", 2)[0]
		if first != "" {
			figure.NewFigure(first, "", false).Print()
			fmt.Fprintln(p.w)
		}
	}
	p.label("server")
	fmt.Fprintln(p.w, t.Addr())

	p.label("version")
	c := color.FgGreen
	if d.Version.Protocol != int32(t.Version) {
		c = color.FgYellow
	}
	p.paint(c, "%s (protocol %d)\n", plain(d.Version.Name), d.Version.Protocol)

	p.label("players")
	fmt.Fprintf(p.w, "%d/%d", d.Players.Online, d.Players.Max)
	if len(d.Players.Sample) > 0 {
		names := make([]string, 0, len(d.Players.Sample))
		for _, pl := range d.Players.Sample {
			names = append(names, plain(pl.Name))
		}
		fmt.Fprintf(p.w, ": %s", strings.Join(names, ", "))
	}
	fmt.Fprintln(p.w)

	p.label("motd")
	fmt.Fprintln(p.w)
	p.motd(d.Text())

	if d.Favicon != "" && mode != "off" {
		if err := p.favicon(d.Favicon, imageprint.Mode(mode)); err != nil {
			p.paint(color.FgRed, "favicon: %v\n", err)
		}
	}
}

func (p printer) favicon(uri string, mode imageprint.Mode) error {
	du, err := dataurl.DecodeString(uri)
	if err != nil {
		return err
	}
	img, err := png.Decode(bytes.NewReader(du.Data))
	if err != nil {
		return err
	}
	if mode != imageprint.Graphics {
		img = fitTerminal(img)
	}
	return imageprint.Print(p.w, img, mode)
}

// fitTerminal shrinks an image drawn with two columns per pixel to the
// terminal.
func fitTerminal(img image.Image) image.Image {
	ts, err := GetTermSize()
	if err != nil || ts.Cols == 0 || ts.Rows < 4 {
		return imageprint.Fit(img, 32, 32)
	}
	return imageprint.Fit(img, ts.Cols/2, ts.Rows-2)
}

func (p printer) latency(seq int, d time.Duration) {
	c := color.FgGreen
	switch {
	case d > 300*time.Millisecond:
		c = color.FgRed
	case d > 100*time.Millisecond:
		c = color.FgYellow
	}
	fmt.Fprintf(p.w, "ping %d: ", seq)
	p.paint(c, "%.1f ms\n", float64(d.Microseconds())/1000)
}

func (p printer) login(res *login.Result) {
	p.label("uuid")
	fmt.Fprintln(p.w, res.UUID)
	p.label("encrypted")
	fmt.Fprintln(p.w, res.Encrypted)
	p.label("compress")
	if res.Compression < 0 {
		fmt.Fprintln(p.w, "off")
	} else {
		fmt.Fprintf(p.w, "from %d bytes\n", res.Compression)
	}
	p.label("joined")
	if res.Joined {
		p.paint(color.FgGreen, "yes\n")
	} else {
		p.paint(color.FgRed, "no\n")
	}
	if res.Reason != "" {
		p.label("reason")
		p.motd(res.Reason)
	}
}

func (p printer) errorf(format string, args ...interface{}) {
	p.paint(color.FgRed, format+"\n", args...)
}
