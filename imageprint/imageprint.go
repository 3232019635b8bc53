// Package imageprint draws small images, such as server favicons, on a
// terminal.
package imageprint

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	ic "image/color"
	"image/png"
	"io"

	"github.com/gookit/color"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Mode selects how pixels reach the terminal.
type Mode string

const (
	// Graphics uses kitty, iTerm2 or sixel graphics, whichever the terminal
	// supports.
	Graphics Mode = "graphics"
	// ITerm always uses iTerm2's inline images, for terminals that support
	// them but cannot be detected, such as inside tmux.
	ITerm     Mode = "iterm"
	TrueColor Mode = "24bit"
	Color256  Mode = "256"
	// NoColor prints shades as ASCII.
	NoColor Mode = "none"
)

// Fit shrinks img to at most w by h pixels, keeping its aspect ratio.
func Fit(img image.Image, w, h uint) image.Image {
	if w == 0 || h == 0 {
		return img
	}
	b := img.Bounds()
	if uint(b.Dx()) <= w && uint(b.Dy()) <= h {
		return img
	}
	return resize.Thumbnail(w, h, img, resize.Lanczos3)
}

// Print draws img in the given mode. Character modes use two columns per
// pixel.
func Print(w io.Writer, img image.Image, mode Mode) error {
	switch mode {
	case Graphics:
		if printGraphics(w, img) {
			return nil
		}
		return printCells(w, img, true, false)
	case ITerm:
		return PrintITerm(w, img, "favicon.png")
	case TrueColor:
		return printCells(w, img, true, false)
	case Color256:
		return printCells(w, img, false, false)
	case NoColor:
		return printCells(w, img, false, true)
	}
	return errors.Errorf("unknown mode %q", mode)
}

func printCells(w io.Writer, img image.Image, trueColor, noColor bool) error {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, err := io.WriteString(w, cell(img.At(x, y), trueColor, noColor)); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\x1b[0m\n"); err != nil {
			return err
		}
	}
	return nil
}

// cell renders one pixel.
func cell(col ic.Color, trueColor, noColor bool) string {
	cR, cG, cB, cA := col.RGBA()
	if cA == 0 {
		return "\x1b[0m  "
	}
	r, g, b := uint8(cR>>8), uint8(cG>>8), uint8(cB>>8)
	switch {
	case noColor:
		return shade((cR + cG + cB) / 3 >> 8)
	case trueColor:
		return fmt.Sprintf("\x1b[48;2;%d;%d;%dm  \x1b[0m", r, g, b)
	}
	return color.RGB(r, g, b, true).Sprint("  ")
}

func shade(a uint32) string {
	switch {
	case a < 32:
		return "  "
	case a < 64:
		return ".."
	case a < 128:
		return "--"
	case a < 192:
		return "=="
	}
	return "##"
}

// PrintITerm draws an image using iTerm2's inline image escape sequence.
//
// https://www.iterm2.com/documentation-images.html
func PrintITerm(w io.Writer, img image.Image, name string) error {
	b := &bytes.Buffer{}
	enc := base64.NewEncoder(base64.StdEncoding, b)
	if err := png.Encode(enc, img); err != nil {
		return err
	}
	enc.Close()
	_, err := fmt.Fprintf(w, "\033]1337;File=name=%s;inline=1;size=%d;width=%dpx;height=%dpx:%s\a\n",
		base64.StdEncoding.EncodeToString([]byte(name)), b.Len(), img.Bounds().Dx(), img.Bounds().Dy(), b.String())
	return err
}
