//go:build !windows

package imageprint

import (
	"fmt"
	"image"
	"io"

	"github.com/BourgeoisBear/rasterm"
	"github.com/andybons/gogif"
)

// printGraphics draws img with the terminal's graphics protocol. It reports
// false when the terminal has none.
func printGraphics(w io.Writer, img image.Image) bool {
	var err error
	switch {
	case rasterm.IsTermKitty():
		err = rasterm.Settings{}.KittyWriteImage(w, img)
	case rasterm.IsTermItermWez():
		err = rasterm.Settings{}.ItermWriteImage(w, img)
	default:
		if capable, serr := rasterm.IsSixelCapable(); !capable || serr != nil {
			return false
		}
		paletted := image.NewPaletted(img.Bounds(), nil)
		quantizer := gogif.MedianCutQuantizer{NumColor: 64}
		quantizer.Quantize(paletted, img.Bounds(), img, image.Point{})
		err = rasterm.Settings{}.SixelWriteImage(w, paletted)
	}
	if err != nil {
		return false
	}
	fmt.Fprintln(w)
	return true
}
