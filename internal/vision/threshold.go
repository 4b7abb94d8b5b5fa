package vision

import (
	"image"
	"image/color"
)

// ThresholdDetector finds bright material in the region: grayscale, binary
// threshold, a 3x3 morphological opening to drop speckle, then the
// foreground pixel count is the measured area.
type ThresholdDetector struct{}

// Sample implements Detector.
func (ThresholdDetector) Sample(frame image.Image, cfg DetectionConfig) Sample {
	rect, ok := ClampRegion(cfg.Region, frame.Bounds())
	mask := binarize(frame, rect, cfg.Threshold)
	mask = open3x3(mask)
	area := mask.count()
	return Sample{
		Present: area >= cfg.MinArea,
		Area:    area,
		Clamped: !ok,
	}
}

// bitmap is a row-major foreground mask.
type bitmap struct {
	w, h int
	px   []bool
}

func newBitmap(w, h int) *bitmap {
	return &bitmap{w: w, h: h, px: make([]bool, w*h)}
}

func (b *bitmap) at(x, y int) bool { return b.px[y*b.w+x] }

func (b *bitmap) set(x, y int, v bool) { b.px[y*b.w+x] = v }

func (b *bitmap) count() int {
	n := 0
	for _, v := range b.px {
		if v {
			n++
		}
	}
	return n
}

// binarize marks pixels whose luma is strictly above threshold.
func binarize(img image.Image, rect image.Rectangle, threshold int) *bitmap {
	w, h := rect.Dx(), rect.Dy()
	b := newBitmap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if int(luma(img, rect.Min.X+x, rect.Min.Y+y)) > threshold {
				b.set(x, y, true)
			}
		}
	}
	return b
}

func luma(img image.Image, x, y int) uint8 {
	switch m := img.(type) {
	case *image.YCbCr:
		return m.Y[m.YOffset(x, y)]
	case *image.Gray:
		return m.GrayAt(x, y).Y
	default:
		return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
	}
}

// open3x3 is erosion followed by dilation with a 3x3 square kernel.
// Neighbours outside the mask do not influence the result.
func open3x3(b *bitmap) *bitmap {
	return morph(morph(b, true), false)
}

func morph(src *bitmap, erode bool) *bitmap {
	dst := newBitmap(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			v := erode
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= src.w || ny >= src.h {
						continue
					}
					if erode && !src.at(nx, ny) {
						v = false
					}
					if !erode && src.at(nx, ny) {
						v = true
					}
				}
			}
			dst.set(x, y, v)
		}
	}
	return dst
}
