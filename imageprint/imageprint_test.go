package imageprint

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"testing"

	"badc0de.net/pkg/go-mcproto/ttesting"
)

func checker(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Transparent)
			}
		}
	}
	return img
}

func TestPrintNoColor(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, checker(2, 2), NoColor); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	ttesting.AssertEqualInt(t, "lines", len(lines), 2)
	ttesting.AssertEqualString(t, "first row", lines[0], "##\x1b[0m  \x1b[0m")
}

func TestPrintTrueColor(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, checker(1, 1), TrueColor); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "48;2;255;255;255") {
		t.Errorf("no white background in %q", buf.String())
	}
	if err := Print(&buf, checker(1, 1), Mode("sepia")); err == nil {
		t.Errorf("unknown mode accepted")
	}
}

func TestFit(t *testing.T) {
	img := checker(64, 64)
	ttesting.AssertEqualInt(t, "unchanged", Fit(img, 100, 100).Bounds().Dx(), 64)
	small := Fit(img, 16, 32)
	ttesting.AssertEqualInt(t, "width", small.Bounds().Dx(), 16)
	ttesting.AssertEqualInt(t, "height", small.Bounds().Dy(), 16)
}

func TestPrintITerm(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, checker(2, 2), ITerm); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "\033]1337;File=") {
		t.Errorf("no inline image sequence in %q", out)
	}
	if !strings.Contains(out, "width=2px;height=2px:") {
		t.Errorf("no size in %q", out)
	}
}
