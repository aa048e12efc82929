package ocr

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"

	"dockhand/internal/logging"
)

// Preprocessor normalizes image bytes before OCR. The chain is idempotent
// and defensive: any stage that fails hands the next stage the bytes it was
// given, so a bad image degrades accuracy instead of failing the request.
//
// Order matters: EXIF orientation must run before geometry-sensitive stages,
// and thresholding before morphology.
type Preprocessor struct {
	MaxDimension int // neither output dimension exceeds this, 0 = no limit
}

// NewPreprocessor builds the default chain.
func NewPreprocessor(maxDimension int) *Preprocessor {
	return &Preprocessor{MaxDimension: maxDimension}
}

// Process runs the full chain over raw upload bytes and returns PNG bytes.
func (p *Preprocessor) Process(ctx context.Context, data []byte) []byte {
	if isHEIC(data) {
		if converted, err := heicToPNG(ctx, data); err == nil {
			data = converted
		} else {
			logging.OCRDebug("heic conversion failed, continuing with original bytes: %v", err)
		}
	}

	orientation := exifOrientation(data)

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logging.OCRDebug("preprocess decode failed, passing bytes through: %v", err)
		return data
	}

	gray := toGray(img)

	if orientation > 1 {
		gray = applyOrientation(gray, orientation)
	}

	if angle := estimateSkew(gray); math.Abs(angle) > 0.5 {
		if rotated, err := rotateGray(gray, -angle); err == nil {
			gray = rotated
		}
	}

	gray = adaptiveThreshold(gray, 25, 10)
	gray = open2x2(gray)
	gray = clahe(gray, 8, 2.0)

	if p.MaxDimension > 0 {
		gray = downscale(gray, p.MaxDimension)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return data
	}
	return buf.Bytes()
}

// isHEIC sniffs the ISO BMFF ftyp box for HEIC brands.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heix" || brand == "mif1" || brand == "msf1"
}

// heicToPNG converts via heif-convert; the stdlib cannot decode HEIC.
func heicToPNG(ctx context.Context, data []byte) ([]byte, error) {
	if _, err := exec.LookPath("heif-convert"); err != nil {
		return nil, fmt.Errorf("heif-convert not available: %w", err)
	}
	dir, err := os.MkdirTemp("", "dockhand-heic-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.heic")
	dst := filepath.Join(dir, "out.png")
	if err := os.WriteFile(src, data, 0600); err != nil {
		return nil, err
	}
	if err := exec.CommandContext(ctx, "heif-convert", src, dst).Run(); err != nil {
		return nil, fmt.Errorf("heif-convert: %w", err)
	}
	return os.ReadFile(dst)
}

// exifOrientation reads the JPEG EXIF orientation tag (1..8), 0 when absent.
func exifOrientation(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return 0
	}
	// Walk JPEG segments looking for APP1/Exif.
	i := 2
	for i+4 < len(data) {
		if data[i] != 0xFF {
			return 0
		}
		marker := data[i+1]
		size := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if marker == 0xE1 && i+4+size <= len(data) {
			return parseExifOrientation(data[i+4 : i+2+size])
		}
		if marker == 0xDA { // start of scan, no EXIF past here
			return 0
		}
		i += 2 + size
	}
	return 0
}

func parseExifOrientation(seg []byte) int {
	if len(seg) < 14 || !bytes.HasPrefix(seg, []byte("Exif\x00\x00")) {
		return 0
	}
	tiff := seg[6:]
	var order binary.ByteOrder
	switch {
	case bytes.HasPrefix(tiff, []byte("II")):
		order = binary.LittleEndian
	case bytes.HasPrefix(tiff, []byte("MM")):
		order = binary.BigEndian
	default:
		return 0
	}
	if len(tiff) < 8 {
		return 0
	}
	ifdOff := order.Uint32(tiff[4:8])
	if int(ifdOff)+2 > len(tiff) {
		return 0
	}
	count := int(order.Uint16(tiff[ifdOff : ifdOff+2]))
	for n := 0; n < count; n++ {
		entry := int(ifdOff) + 2 + n*12
		if entry+12 > len(tiff) {
			return 0
		}
		tag := order.Uint16(tiff[entry : entry+2])
		if tag == 0x0112 {
			v := int(order.Uint16(tiff[entry+8 : entry+10]))
			if v >= 1 && v <= 8 {
				return v
			}
			return 0
		}
	}
	return 0
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, gr, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.Pix[y*g.Stride+x] = uint8(((299*r + 587*gr + 114*bl) / 1000) >> 8)
		}
	}
	return g
}

// applyOrientation undoes the eight EXIF orientations.
func applyOrientation(g *image.Gray, orientation int) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	var out *image.Gray
	set := func(x, y int, v uint8) { out.Pix[y*out.Stride+x] = v }

	switch orientation {
	case 2: // mirror horizontal
		out = image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				set(w-1-x, y, g.Pix[y*g.Stride+x])
			}
		}
	case 3: // rotate 180
		out = image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				set(w-1-x, h-1-y, g.Pix[y*g.Stride+x])
			}
		}
	case 4: // mirror vertical
		out = image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				set(x, h-1-y, g.Pix[y*g.Stride+x])
			}
		}
	case 5: // mirror horizontal + rotate 270 CW
		out = image.NewGray(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				set(y, x, g.Pix[y*g.Stride+x])
			}
		}
	case 6: // rotate 90 CW
		out = image.NewGray(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				set(h-1-y, x, g.Pix[y*g.Stride+x])
			}
		}
	case 7: // mirror horizontal + rotate 90 CW
		out = image.NewGray(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				set(h-1-y, w-1-x, g.Pix[y*g.Stride+x])
			}
		}
	case 8: // rotate 270 CW
		out = image.NewGray(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				set(y, w-1-x, g.Pix[y*g.Stride+x])
			}
		}
	default:
		return g
	}
	return out
}

// estimateSkew finds the dominant near-horizontal text angle in degrees via
// a coarse Hough vote over edge pixels, scanning -10..10 degrees.
func estimateSkew(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 64 || h < 64 {
		return 0
	}

	// Edge pixels: strong vertical gradient marks text baselines.
	type pt struct{ x, y int }
	var edges []pt
	step := 1
	if w*h > 1<<21 {
		step = 2 // sample large images
	}
	for y := 1; y < h-1; y += step {
		for x := 1; x < w-1; x += step {
			dy := int(g.Pix[(y+1)*g.Stride+x]) - int(g.Pix[(y-1)*g.Stride+x])
			if dy > 40 || dy < -40 {
				edges = append(edges, pt{x, y})
			}
		}
	}
	if len(edges) < 100 {
		return 0
	}

	const (
		angleMin  = -10.0
		angleStep = 0.25
		angleN    = int((10.0 - angleMin) / angleStep)
	)
	best, bestVotes := 0.0, 0
	for a := 0; a <= angleN; a++ {
		angle := angleMin + float64(a)*angleStep
		rad := angle * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)
		votes := make(map[int]int)
		for _, e := range edges {
			rho := int(float64(e.x)*sin + float64(e.y)*cos)
			votes[rho]++
		}
		// Peak sharpness: the strongest few accumulator rows.
		top := 0
		for _, v := range votes {
			if v > top {
				top = v
			}
		}
		if top > bestVotes {
			bestVotes = top
			best = angle
		}
	}
	return best
}

// rotateGray rotates by the given degrees around the center with bilinear
// sampling, filling uncovered corners with white.
func rotateGray(g *image.Gray, degrees float64) (*image.Gray, error) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	rad := degrees * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx, cy := float64(w)/2, float64(h)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Inverse mapping.
			dx, dy := float64(x)-cx, float64(y)-cy
			sx := dx*cos + dy*sin + cx
			sy := -dx*sin + dy*cos + cy
			out.Pix[y*out.Stride+x] = bilinear(g, sx, sy)
		}
	}
	return out, nil
}

func bilinear(g *image.Gray, x, y float64) uint8 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	if x0 < 0 || y0 < 0 || x0 >= w-1 || y0 >= h-1 {
		return 255
	}
	fx, fy := x-float64(x0), y-float64(y0)
	p00 := float64(g.Pix[y0*g.Stride+x0])
	p10 := float64(g.Pix[y0*g.Stride+x0+1])
	p01 := float64(g.Pix[(y0+1)*g.Stride+x0])
	p11 := float64(g.Pix[(y0+1)*g.Stride+x0+1])
	v := p00*(1-fx)*(1-fy) + p10*fx*(1-fy) + p01*(1-fx)*fy + p11*fx*fy
	return uint8(v + 0.5)
}

// adaptiveThreshold binarizes against a Gaussian-blurred local mean minus a
// constant offset. window must be odd.
func adaptiveThreshold(g *image.Gray, window int, offset int) *image.Gray {
	if window%2 == 0 {
		window++
	}
	blurred := gaussianBlur(g, window)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		if int(g.Pix[i]) > int(blurred.Pix[i])-offset {
			out.Pix[i] = 255
		}
	}
	return out
}

// gaussianBlur applies a separable Gaussian with sigma derived from window.
func gaussianBlur(g *image.Gray, window int) *image.Gray {
	radius := window / 2
	sigma := float64(radius) / 2
	if sigma <= 0 {
		sigma = 1
	}
	kernel := make([]float64, window)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	w, h := g.Rect.Dx(), g.Rect.Dy()
	tmp := make([]float64, w*h)
	out := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				sx := clampInt(x+k, 0, w-1)
				acc += float64(g.Pix[y*g.Stride+sx]) * kernel[k+radius]
			}
			tmp[y*w+x] = acc
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				sy := clampInt(y+k, 0, h-1)
				acc += tmp[sy*w+x] * kernel[k+radius]
			}
			out.Pix[y*out.Stride+x] = uint8(acc + 0.5)
		}
	}
	return out
}

// open2x2 is a morphological opening (erode then dilate) with a 2x2 kernel,
// which removes single-pixel speckle from the binarized image.
func open2x2(g *image.Gray) *image.Gray {
	return dilate2x2(erode2x2(g))
}

func erode2x2(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m := g.Pix[y*g.Stride+x]
			if x+1 < w && g.Pix[y*g.Stride+x+1] < m {
				m = g.Pix[y*g.Stride+x+1]
			}
			if y+1 < h && g.Pix[(y+1)*g.Stride+x] < m {
				m = g.Pix[(y+1)*g.Stride+x]
			}
			if x+1 < w && y+1 < h && g.Pix[(y+1)*g.Stride+x+1] < m {
				m = g.Pix[(y+1)*g.Stride+x+1]
			}
			out.Pix[y*out.Stride+x] = m
		}
	}
	return out
}

func dilate2x2(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m := g.Pix[y*g.Stride+x]
			if x > 0 && g.Pix[y*g.Stride+x-1] > m {
				m = g.Pix[y*g.Stride+x-1]
			}
			if y > 0 && g.Pix[(y-1)*g.Stride+x] > m {
				m = g.Pix[(y-1)*g.Stride+x]
			}
			if x > 0 && y > 0 && g.Pix[(y-1)*g.Stride+x-1] > m {
				m = g.Pix[(y-1)*g.Stride+x-1]
			}
			out.Pix[y*out.Stride+x] = m
		}
	}
	return out
}

// clahe applies contrast-limited adaptive histogram equalization over a
// tiles x tiles grid with the given clip limit multiplier.
func clahe(g *image.Gray, tiles int, clipLimit float64) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if tiles < 1 || w < tiles || h < tiles {
		return g
	}
	tileW, tileH := (w+tiles-1)/tiles, (h+tiles-1)/tiles

	// Per-tile clipped CDF lookup tables.
	luts := make([][]uint8, tiles*tiles)
	for ty := 0; ty < tiles; ty++ {
		for tx := 0; tx < tiles; tx++ {
			var hist [256]int
			n := 0
			for y := ty * tileH; y < minInt((ty+1)*tileH, h); y++ {
				for x := tx * tileW; x < minInt((tx+1)*tileW, w); x++ {
					hist[g.Pix[y*g.Stride+x]]++
					n++
				}
			}
			if n == 0 {
				luts[ty*tiles+tx] = identityLUT()
				continue
			}
			clip := int(clipLimit * float64(n) / 256)
			if clip < 1 {
				clip = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > clip {
					excess += hist[i] - clip
					hist[i] = clip
				}
			}
			redist := excess / 256
			for i := range hist {
				hist[i] += redist
			}
			lut := make([]uint8, 256)
			cum := 0
			for i := range hist {
				cum += hist[i]
				lut[i] = uint8(255 * cum / n)
			}
			luts[ty*tiles+tx] = lut
		}
	}

	// Bilinear interpolation between the four surrounding tile LUTs.
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty0 := clampInt(int(math.Floor(fy)), 0, tiles-1)
		ty1 := clampInt(ty0+1, 0, tiles-1)
		wy := fy - math.Floor(fy)
		if fy < 0 {
			wy = 0
		}
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx0 := clampInt(int(math.Floor(fx)), 0, tiles-1)
			tx1 := clampInt(tx0+1, 0, tiles-1)
			wx := fx - math.Floor(fx)
			if fx < 0 {
				wx = 0
			}
			p := g.Pix[y*g.Stride+x]
			v := (1-wy)*((1-wx)*float64(luts[ty0*tiles+tx0][p])+wx*float64(luts[ty0*tiles+tx1][p])) +
				wy*((1-wx)*float64(luts[ty1*tiles+tx0][p])+wx*float64(luts[ty1*tiles+tx1][p]))
			out.Pix[y*out.Stride+x] = uint8(v + 0.5)
		}
	}
	return out
}

func identityLUT() []uint8 {
	lut := make([]uint8, 256)
	for i := range lut {
		lut[i] = uint8(i)
	}
	return lut
}

// downscale shrinks so neither dimension exceeds maxDim, using box
// (area-average) resampling, which is the high-quality choice for reduction.
func downscale(g *image.Gray, maxDim int) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w <= maxDim && h <= maxDim {
		return g
	}
	scale := float64(maxDim) / float64(maxInt(w, h))
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	out := image.NewGray(image.Rect(0, 0, nw, nh))
	for y := 0; y < nh; y++ {
		sy0 := int(float64(y) / scale)
		sy1 := int(float64(y+1) / scale)
		if sy1 > h {
			sy1 = h
		}
		for x := 0; x < nw; x++ {
			sx0 := int(float64(x) / scale)
			sx1 := int(float64(x+1) / scale)
			if sx1 > w {
				sx1 = w
			}
			sum, n := 0, 0
			for sy := sy0; sy < sy1; sy++ {
				for sx := sx0; sx < sx1; sx++ {
					sum += int(g.Pix[sy*g.Stride+sx])
					n++
				}
			}
			if n > 0 {
				out.Pix[y*out.Stride+x] = uint8(sum / n)
			}
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// encodeJPEG is kept for callers that need a JPEG round-trip in tests.
func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes(), err
}
