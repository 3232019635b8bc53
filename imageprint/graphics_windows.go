package imageprint

import (
	"image"
	"io"
)

func printGraphics(w io.Writer, img image.Image) bool {
	return false
}
