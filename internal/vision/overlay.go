package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultJPEGQuality matches what the calibration page was tuned against.
const DefaultJPEGQuality = 85

// Tone selects the region outline colour.
type Tone int

const (
	ToneEmpty Tone = iota
	TonePresent
	ToneTrimming
)

var (
	colorEmpty    = color.RGBA{R: 255, A: 255}
	colorPresent  = color.RGBA{G: 255, A: 255}
	colorTrimming = color.RGBA{R: 255, G: 255, A: 255}
	colorText     = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorWarn     = color.RGBA{R: 255, G: 128, A: 255}
)

func (t Tone) color() color.RGBA {
	switch t {
	case TonePresent:
		return colorPresent
	case ToneTrimming:
		return colorTrimming
	default:
		return colorEmpty
	}
}

// Overlay describes the annotations drawn on a frame.
type Overlay struct {
	Region   Region
	Tone     Tone
	Phase    string
	Area     int
	Lot      string
	Degraded bool
}

// Renderer draws overlays and encodes frames as JPEG.
type Renderer struct {
	Quality int
}

// NewRenderer returns a renderer with the given JPEG quality (0 = default).
func NewRenderer(quality int) *Renderer {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Renderer{Quality: quality}
}

// Render annotates a copy of frame and returns it JPEG-encoded. The input
// frame is not modified.
func (r *Renderer) Render(frame image.Image, o Overlay) ([]byte, error) {
	b := frame.Bounds()
	canvas := image.NewRGBA(b)
	draw.Draw(canvas, b, frame, b.Min, draw.Src)

	rect, _ := ClampRegion(o.Region, b)
	c := o.Tone.color()
	strokeRect(canvas, rect, 2, c)

	drawText(canvas, b.Min.X+10, b.Min.Y+20, fmt.Sprintf("%s - Area: %d", o.Phase, o.Area), c)
	if o.Lot != "" {
		drawText(canvas, b.Min.X+10, b.Min.Y+38, "Lot: "+o.Lot, colorText)
	}
	if o.Degraded {
		drawText(canvas, b.Min.X+10, b.Max.Y-10, "DEGRADED", colorWarn)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: r.Quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func strokeRect(dst draw.Image, r image.Rectangle, width int, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

func drawText(dst draw.Image, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
