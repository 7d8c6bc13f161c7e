// Package qrshare renders share links as QR PNGs with a round badge in the
// middle, drawn like a cluster badge on the map.
package qrshare

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	qrcode "github.com/skip2/go-qrcode"
)

// MaxPayload is the byte capacity of the largest QR symbol at ECC level
// High.
const MaxPayload = 1273

// ErrTooLong is returned for payloads a QR code cannot hold. Links are never
// cut short, a truncated URL would not open the same view.
var ErrTooLong = errors.New("qrshare: payload too long")

// Options controls the output image.
type Options struct {
	TargetPx  int        // output edge in pixels
	Fg        color.RGBA // modules
	Bg        color.RGBA // background and quiet zone
	Badge     color.RGBA // center disc, zero disables it
	BadgeFrac float64    // disc diameter relative to the image, 0.10..0.25
}

// ParseHex reads "#RRGGBB". Anything else yields ok == false.
func ParseHex(s string) (c color.RGBA, ok bool) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, false
	}
	var v [3]uint8
	for i := 0; i < 3; i++ {
		hi, ok1 := hexNibble(s[1+2*i])
		lo, ok2 := hexNibble(s[2+2*i])
		if !ok1 || !ok2 {
			return color.RGBA{}, false
		}
		v[i] = hi<<4 | lo
	}
	return color.RGBA{v[0], v[1], v[2], 0xFF}, true
}

func hexNibble(b byte) (uint8, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

// EncodePNG writes data as a QR code. ECC is High so the badge does not
// break decoding.
func EncodePNG(w io.Writer, data string, opt Options) error {
	if data == "" {
		return errors.New("qrshare: empty payload")
	}
	if len(data) > MaxPayload {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTooLong, len(data), MaxPayload)
	}
	if opt.TargetPx <= 0 {
		opt.TargetPx = 512
	}
	if opt.BadgeFrac <= 0 {
		opt.BadgeFrac = 0.18
	}
	if opt.BadgeFrac < 0.10 {
		opt.BadgeFrac = 0.10
	}
	if opt.BadgeFrac > 0.25 {
		opt.BadgeFrac = 0.25
	}
	if (opt.Fg == color.RGBA{}) {
		opt.Fg = color.RGBA{0, 0, 0, 255}
	}
	if (opt.Bg == color.RGBA{}) {
		opt.Bg = color.RGBA{255, 255, 255, 255}
	}

	qr, err := qrcode.New(data, qrcode.Highest)
	if err != nil {
		return err
	}
	qr.ForegroundColor = opt.Fg
	qr.BackgroundColor = opt.Bg

	src := qr.Image(opt.TargetPx)
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	if opt.Badge != (color.RGBA{}) {
		d := int(opt.BadgeFrac * float64(min(b.Dx(), b.Dy())))
		cx, cy := b.Dx()/2, b.Dy()/2
		// White ring first so the disc stands off the modules.
		fillCircle(dst, cx, cy, d/2+d/8, opt.Bg)
		fillCircle(dst, cx, cy, d/2, opt.Badge)
	}

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, dst)
}

func fillCircle(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	r2 := r * r
	bounds := img.Bounds()
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy > r2 {
				continue
			}
			if image.Pt(x, y).In(bounds) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}
