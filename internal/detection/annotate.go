package detection

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png" // png frames from directory sources

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	boxThickness = 2
	jpegQuality  = 85
)

var boxColor = color.RGBA{G: 255, A: 255}

// ErrUndecodableFrame wraps image decoding failures.
var ErrUndecodableFrame = errors.New("detection: undecodable frame")

func decodeFrame(frame []byte) (image.Image, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableFrame, err)
	}
	return img, nil
}

type canvas struct {
	img *image.RGBA
}

func newCanvas(src image.Image) *canvas {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return &canvas{img: dst}
}

// drawBox outlines b and writes its class above the top-left corner.
// Parts outside the frame are clipped.
func (c *canvas) drawBox(b Box) {
	r := image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H).Intersect(c.img.Bounds())
	if r.Empty() {
		return
	}
	fill := image.NewUniform(boxColor)
	t := boxThickness
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(c.img, e.Intersect(r), fill, image.Point{}, draw.Src)
	}

	baseline := r.Min.Y - 5
	if baseline < basicfont.Face7x13.Ascent {
		baseline = r.Min.Y + basicfont.Face7x13.Ascent + t
	}
	d := font.Drawer{
		Dst:  c.img,
		Src:  fill,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(r.Min.X, baseline),
	}
	d.DrawString(b.Class)
}

func (c *canvas) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode annotated frame: %w", err)
	}
	return buf.Bytes(), nil
}
