package intake

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"dockhand/internal/types"
)

// QualityWeights are the DQS blend weights; they must sum to 1.0.
type QualityWeights struct {
	Blur     float64
	Glare    float64
	Contrast float64
}

// grayFrame is a decoded image reduced to 8-bit luma.
type grayFrame struct {
	pix    []uint8
	width  int
	height int
}

func decodeGray(data []byte) (*grayFrame, int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	g := &grayFrame{pix: make([]uint8, w*h), width: w, height: h}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, gr, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			// ITU-R BT.601 luma, inputs are 16-bit.
			luma := (299*r + 587*gr + 114*bl) / 1000
			g.pix[y*w+x] = uint8(luma >> 8)
		}
	}
	return g, w, h, nil
}

// ScoreQuality computes the Document Quality Score for an image:
// DQS = w_b*B + w_g*G + w_c*C, where B is normalized Laplacian variance,
// G is 100 minus the glare penalty, and C is Michelson contrast scaled to
// 0..100. The returned metrics carry a remediation hint when one component
// drags the score down.
func ScoreQuality(data []byte, weights QualityWeights, glareThreshold int) (*types.QualityMetrics, error) {
	g, _, _, err := decodeGray(data)
	if err != nil {
		return nil, err
	}

	blur := blurScore(g)
	glare := glareScore(g, glareThreshold)
	contrast := contrastScore(g)

	m := &types.QualityMetrics{
		Blur:     blur,
		Glare:    glare,
		Contrast: contrast,
		DQS:      weights.Blur*blur + weights.Glare*glare + weights.Contrast*contrast,
	}
	m.Feedback = qualityFeedback(blur, glare, contrast)
	return m, nil
}

// blurScore is the variance of the 4-neighbor Laplacian, normalized so that
// sharply focused documents land near 100. Higher = sharper.
func blurScore(g *grayFrame) float64 {
	if g.width < 3 || g.height < 3 {
		return 0
	}
	var sum, sumSq float64
	n := 0
	for y := 1; y < g.height-1; y++ {
		for x := 1; x < g.width-1; x++ {
			c := float64(g.pix[y*g.width+x])
			lap := 4*c -
				float64(g.pix[(y-1)*g.width+x]) -
				float64(g.pix[(y+1)*g.width+x]) -
				float64(g.pix[y*g.width+x-1]) -
				float64(g.pix[y*g.width+x+1])
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean

	// Laplacian variance of ~500 on 8-bit scans corresponds to crisp text.
	score := 100 * variance / 500.0
	return math.Min(score, 100)
}

// glareScore penalizes near-white blowout: 100 - (% pixels above the
// near-white threshold) * 10, floored at 0.
func glareScore(g *grayFrame, threshold int) float64 {
	if threshold <= 0 {
		threshold = 250
	}
	blown := 0
	for _, p := range g.pix {
		if int(p) >= threshold {
			blown++
		}
	}
	pct := 100 * float64(blown) / float64(len(g.pix))
	score := 100 - pct*10
	return math.Max(score, 0)
}

// contrastScore is 100 times the Michelson contrast (Lmax-Lmin)/(Lmax+Lmin).
func contrastScore(g *grayFrame) float64 {
	minL, maxL := uint8(255), uint8(0)
	for _, p := range g.pix {
		if p < minL {
			minL = p
		}
		if p > maxL {
			maxL = p
		}
	}
	if int(maxL)+int(minL) == 0 {
		return 0
	}
	return 100 * float64(int(maxL)-int(minL)) / float64(int(maxL)+int(minL))
}

// feedbackMargin is how far the worst component must trail the best before
// it is called out as the culprit.
const feedbackMargin = 20.0

type scoredMetric struct {
	score float64
	hint  string
}

func rankMetrics(blur, glare, contrast float64) (worst, best scoredMetric) {
	ms := []scoredMetric{
		{blur, "Image is blurry. Hold the camera steady and tap to focus on the document."},
		{glare, "Turn off flash or tilt the document to reduce glare."},
		{contrast, "Low contrast. Photograph the document on a darker surface with more even lighting."},
	}
	worst, best = ms[0], ms[0]
	for _, m := range ms[1:] {
		if m.score < worst.score {
			worst = m
		}
		if m.score > best.score {
			best = m
		}
	}
	return worst, best
}

// qualityFeedback names the worst metric when it clearly drags the score
// down relative to the best one; even spreads carry no hint.
func qualityFeedback(blur, glare, contrast float64) string {
	worst, best := rankMetrics(blur, glare, contrast)
	if best.score-worst.score >= feedbackMargin {
		return worst.hint
	}
	return ""
}

// worstHint names the weakest metric unconditionally, for callers that
// already know the overall score failed and owe the user a remediation.
func worstHint(blur, glare, contrast float64) string {
	worst, _ := rankMetrics(blur, glare, contrast)
	return worst.hint
}

// imageDimensions decodes just the header to get width and height.
func imageDimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
