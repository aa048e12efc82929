package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"dockhand/internal/types"
)

// TesseractEngine shells out to the tesseract binary, treating the subprocess
// as an API. Two registered variants share the implementation: the fast mode
// trades accuracy for speed via a lighter page-segmentation pass, the
// accurate mode runs the LSTM engine with full layout analysis.
type TesseractEngine struct {
	binary   string
	fast     bool
	timeout  time.Duration
	runner   func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

// NewTesseractEngine builds a local engine. fast selects the cheaper mode.
func NewTesseractEngine(binary string, fast bool, timeout time.Duration) *TesseractEngine {
	e := &TesseractEngine{binary: binary, fast: fast, timeout: timeout}
	e.runner = e.run
	return e
}

func (e *TesseractEngine) Name() string {
	if e.fast {
		return "tesseract-fast"
	}
	return "tesseract-accurate"
}

// HealthCheck verifies the binary is on PATH and answers --version.
func (e *TesseractEngine) HealthCheck(ctx context.Context) error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("tesseract binary not found: %w", err)
	}
	_, err := e.runner(ctx, e.binary, []string{"--version"}, nil)
	return err
}

// Extract runs OCR and parses tesseract's TSV output into fragments.
func (e *TesseractEngine) Extract(ctx context.Context, data []byte) (*types.OCRResult, error) {
	start := time.Now()

	args := []string{"stdin", "stdout", "tsv"}
	if e.fast {
		args = append(args, "--oem", "0", "--psm", "6")
	} else {
		args = append(args, "--oem", "1", "--psm", "3")
	}

	out, err := e.runner(ctx, e.binary, args, data)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}

	result := parseTSV(out)
	result.Engine = e.Name()
	result.ProcessingTime = time.Since(start)
	return result, nil
}

func (e *TesseractEngine) run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// parseTSV converts tesseract TSV (level page block par line word left top
// width height conf text) into the uniform result. Word rows are grouped
// into line fragments; confidence is the mean word confidence.
func parseTSV(out []byte) *types.OCRResult {
	type lineKey struct{ page, block, par, line int }

	lines := strings.Split(string(out), "\n")
	frags := make(map[lineKey]*types.OCRFragment)
	fragConf := make(map[lineKey][]float64)
	order := []lineKey{}

	for i, row := range lines {
		if i == 0 || strings.TrimSpace(row) == "" {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		level, _ := strconv.Atoi(cols[0])
		if level != 5 {
			continue // only word rows carry text
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}

		page, _ := strconv.Atoi(cols[1])
		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		lineNo, _ := strconv.Atoi(cols[4])
		left, _ := strconv.Atoi(cols[6])
		top, _ := strconv.Atoi(cols[7])
		width, _ := strconv.Atoi(cols[8])
		height, _ := strconv.Atoi(cols[9])

		key := lineKey{page, block, par, lineNo}
		frag, ok := frags[key]
		if !ok {
			frag = &types.OCRFragment{X1: left, Y1: top, X2: left + width, Y2: top + height}
			frags[key] = frag
			order = append(order, key)
		} else {
			frag.Text += " "
			if left < frag.X1 {
				frag.X1 = left
			}
			if top < frag.Y1 {
				frag.Y1 = top
			}
			if left+width > frag.X2 {
				frag.X2 = left + width
			}
			if top+height > frag.Y2 {
				frag.Y2 = top + height
			}
		}
		frag.Text += text
		fragConf[key] = append(fragConf[key], conf)
	}

	result := &types.OCRResult{Metadata: map[string]string{}}
	var textParts []string
	var confSum float64
	for _, key := range order {
		frag := frags[key]
		cs := fragConf[key]
		var sum float64
		for _, c := range cs {
			sum += c
		}
		frag.Confidence = sum / float64(len(cs)) / 100.0
		confSum += frag.Confidence
		result.Fragments = append(result.Fragments, *frag)
		textParts = append(textParts, frag.Text)
	}
	result.Text = strings.Join(textParts, "\n")
	if len(order) > 0 {
		result.Confidence = confSum / float64(len(order))
	}
	return result
}
