package intake

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

var defaultWeights = QualityWeights{Blur: 0.4, Glare: 0.3, Contrast: 0.3}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func uniformImage(w, h int, level uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = level
	}
	return img
}

// checkerboard alternates black and white per pixel: maximal edges, maximal
// contrast, no near-white majority at 128-cell scale.
func checkerboard(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 200})
			}
		}
	}
	return img
}

func TestScoreQualityUniformImage(t *testing.T) {
	data := encodePNG(t, uniformImage(64, 64, 128))
	m, err := ScoreQuality(data, defaultWeights, 250)
	if err != nil {
		t.Fatalf("ScoreQuality failed: %v", err)
	}

	if m.Blur != 0 {
		t.Errorf("uniform image should have zero blur score, got %.2f", m.Blur)
	}
	if m.Contrast != 0 {
		t.Errorf("uniform image should have zero contrast, got %.2f", m.Contrast)
	}
	if m.Glare != 100 {
		t.Errorf("mid-gray image should have no glare penalty, got %.2f", m.Glare)
	}
	// Only the glare component contributes.
	if want := 0.3 * 100; m.DQS != want {
		t.Errorf("DQS = %.2f, want %.2f", m.DQS, want)
	}
}

func TestScoreQualitySharpHighContrast(t *testing.T) {
	data := encodePNG(t, checkerboard(64, 64))
	m, err := ScoreQuality(data, defaultWeights, 250)
	if err != nil {
		t.Fatalf("ScoreQuality failed: %v", err)
	}

	if m.Blur != 100 {
		t.Errorf("per-pixel checkerboard should cap the blur score, got %.2f", m.Blur)
	}
	if m.Contrast != 100 {
		t.Errorf("0/200 checkerboard has full Michelson contrast, got %.2f", m.Contrast)
	}
	if m.Glare != 100 {
		t.Errorf("no pixel reaches 250, glare should be 100, got %.2f", m.Glare)
	}
	if m.DQS != 100 {
		t.Errorf("DQS = %.2f, want 100", m.DQS)
	}
	if m.Feedback != "" {
		t.Errorf("perfect image should carry no feedback, got %q", m.Feedback)
	}
}

func TestGlarePenalty(t *testing.T) {
	// Half the pixels fully blown out: penalty 50% * 10 floors the score at 0.
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if x < 32 {
				img.SetGray(x, y, color.Gray{Y: 255})
			} else {
				img.SetGray(x, y, color.Gray{Y: 100})
			}
		}
	}

	m, err := ScoreQuality(encodePNG(t, img), defaultWeights, 250)
	if err != nil {
		t.Fatalf("ScoreQuality failed: %v", err)
	}
	if m.Glare != 0 {
		t.Errorf("50%% blowout should floor glare at 0, got %.2f", m.Glare)
	}
	if m.Feedback == "" {
		t.Error("expected glare remediation hint")
	}
}

func TestQualityFeedbackNamesWorstMetric(t *testing.T) {
	// A shot with Laplacian variance 40, 12% blowout, and Michelson
	// contrast 0.2 scores blur=8, glare=0, contrast=20. Glare is the
	// weakest and must be the one called out.
	hint := qualityFeedback(8, 0, 20)
	if !strings.Contains(hint, "glare") {
		t.Errorf("expected glare remediation hint, got %q", hint)
	}

	// Uniformly weak components point at no single culprit.
	if hint := qualityFeedback(50, 55, 52); hint != "" {
		t.Errorf("even spread should carry no hint, got %q", hint)
	}

	// worstHint still names the weakest one for those cases.
	if hint := worstHint(50, 55, 52); !strings.Contains(hint, "blurry") {
		t.Errorf("expected blur remediation hint, got %q", hint)
	}
}

func TestImageDimensions(t *testing.T) {
	data := encodePNG(t, uniformImage(800, 600, 128))
	w, h, err := imageDimensions(data)
	if err != nil {
		t.Fatalf("imageDimensions failed: %v", err)
	}
	if w != 800 || h != 600 {
		t.Errorf("got %dx%d, want 800x600", w, h)
	}

	if _, _, err := imageDimensions([]byte("not an image")); err == nil {
		t.Error("expected error for junk bytes")
	}
}
