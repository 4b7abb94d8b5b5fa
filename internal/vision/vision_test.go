package vision

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"testing"
)

// frameWithBlob returns a black w x h gray frame with a white square.
func frameWithBlob(w, h int, blob image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := blob.Min.Y; y < blob.Max.Y; y++ {
		for x := blob.Min.X; x < blob.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

func TestClampRegionInBounds(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)
	rect, ok := ClampRegion(Region{X: 280, Y: 260, W: 80, H: 80}, bounds)
	if !ok {
		t.Fatal("expected in-bounds region to be kept")
	}
	if rect != image.Rect(280, 260, 360, 340) {
		t.Errorf("rect: got %v", rect)
	}
}

func TestClampRegionOutOfBounds(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)
	cases := []Region{
		{X: 700, Y: 0, W: 50, H: 50},
		{X: 600, Y: 0, W: 50, H: 50},
		{X: 0, Y: 450, W: 10, H: 50},
		{X: -5, Y: 0, W: 10, H: 10},
		{X: 10, Y: 10, W: 0, H: 10},
	}
	for _, r := range cases {
		rect, ok := ClampRegion(r, bounds)
		if ok {
			t.Errorf("%+v: expected fallback", r)
		}
		if rect != bounds {
			t.Errorf("%+v: got %v, want full frame", r, rect)
		}
	}
}

func TestThresholdDetectorOutOfBoundsDoesNotPanic(t *testing.T) {
	frame := frameWithBlob(640, 480, image.Rect(100, 100, 130, 130))
	s := ThresholdDetector{}.Sample(frame, DetectionConfig{
		Region:    Region{X: 700, Y: 0, W: 50, H: 50},
		Threshold: 100,
		MinArea:   500,
	})
	if !s.Clamped {
		t.Error("expected Clamped=true")
	}
	// Full frame was used, so the 30x30 blob is visible.
	if s.Area != 900 {
		t.Errorf("Area: got %d, want 900", s.Area)
	}
	if !s.Present {
		t.Error("expected Present=true")
	}
}

func TestThresholdDetectorPresence(t *testing.T) {
	frame := frameWithBlob(640, 480, image.Rect(290, 270, 320, 300))
	cfg := DetectionConfig{Region: Region{X: 280, Y: 260, W: 80, H: 80}, Threshold: 100, MinArea: 500}

	s := ThresholdDetector{}.Sample(frame, cfg)
	if s.Area != 900 || !s.Present || s.Clamped {
		t.Errorf("got %+v, want area 900 present", s)
	}

	cfg.MinArea = 1000
	if s := (ThresholdDetector{}).Sample(frame, cfg); s.Present {
		t.Errorf("min area 1000: expected absent, got %+v", s)
	}

	cfg.Threshold = 255
	if s := (ThresholdDetector{}).Sample(frame, cfg); s.Area != 0 {
		t.Errorf("threshold 255: expected no foreground, got %d", s.Area)
	}
}

func TestThresholdDetectorOpeningRemovesSpeckle(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := 0; i < 100; i += 7 {
		frame.SetGray(i, (i*3)%100, color.Gray{Y: 255})
	}
	s := ThresholdDetector{}.Sample(frame, DetectionConfig{Region: Region{W: 100, H: 100}, Threshold: 10})
	if s.Area != 0 {
		t.Errorf("isolated pixels should be removed, got area %d", s.Area)
	}
}

func TestThresholdDetectorDeterministic(t *testing.T) {
	frame := frameWithBlob(320, 240, image.Rect(10, 10, 60, 40))
	cfg := DetectionConfig{Region: Region{W: 320, H: 240}, Threshold: 50, MinArea: 1}
	first := ThresholdDetector{}.Sample(frame, cfg)
	for i := 0; i < 5; i++ {
		if got := (ThresholdDetector{}).Sample(frame, cfg); got != first {
			t.Fatalf("run %d: got %+v, want %+v", i, got, first)
		}
	}
}

func TestThresholdDetectorYCbCr(t *testing.T) {
	gray := frameWithBlob(64, 48, image.Rect(8, 8, 24, 24))
	rgba := image.NewRGBA(gray.Bounds())
	draw.Draw(rgba, rgba.Bounds(), gray, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	s := ThresholdDetector{}.Sample(img, DetectionConfig{Region: Region{W: 64, H: 48}, Threshold: 128, MinArea: 200})
	if !s.Present {
		t.Errorf("expected blob to survive jpeg round trip, got %+v", s)
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := ValidateThreshold(256); !errors.Is(err, ErrThresholdRange) {
		t.Errorf("threshold 256: got %v", err)
	}
	if err := ValidateThreshold(-1); !errors.Is(err, ErrThresholdRange) {
		t.Errorf("threshold -1: got %v", err)
	}
	if err := ValidateMinArea(-1); !errors.Is(err, ErrMinArea) {
		t.Errorf("min area -1: got %v", err)
	}
	if err := ValidateRegion(Region{X: 1, Y: 1, W: 0, H: 5}); !errors.Is(err, ErrRegionSize) {
		t.Errorf("zero width: got %v", err)
	}
	if err := ValidateRegion(Region{X: -1, Y: 1, W: 5, H: 5}); !errors.Is(err, ErrRegionOrigin) {
		t.Errorf("negative x: got %v", err)
	}
	// Off-frame regions are allowed; sampling falls back to the full frame.
	if err := ValidateRegion(Region{X: 700, Y: 0, W: 50, H: 50}); err != nil {
		t.Errorf("off-frame region rejected: %v", err)
	}
}

func TestRenderProducesJPEG(t *testing.T) {
	frame := frameWithBlob(640, 480, image.Rect(290, 270, 320, 300))
	r := NewRenderer(0)
	if r.Quality != DefaultJPEGQuality {
		t.Errorf("Quality: got %d, want %d", r.Quality, DefaultJPEGQuality)
	}
	data, err := r.Render(frame, Overlay{
		Region:   Region{X: 280, Y: 260, W: 80, H: 80},
		Tone:     ToneTrimming,
		Phase:    "TRIMMING",
		Area:     900,
		Lot:      "L-1",
		Degraded: true,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds() != frame.Bounds() {
		t.Errorf("bounds: got %v, want %v", img.Bounds(), frame.Bounds())
	}
	// The source frame must not be drawn on.
	if frame.GrayAt(280, 260).Y != 0 {
		t.Error("Render modified the input frame")
	}
}

func TestRenderOutOfBoundsRegion(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 640, 480))
	if _, err := NewRenderer(85).Render(frame, Overlay{Region: Region{X: 700, Y: 0, W: 50, H: 50}}); err != nil {
		t.Fatalf("Render: %v", err)
	}
}
