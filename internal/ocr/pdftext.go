package ocr

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ExtractPDFText pulls the embedded text layer out of a PDF, if any page has
// one. The scan walks content streams (inflating FlateDecode streams) and
// collects the arguments of Tj and TJ show-text operators. Returns false when
// no stream yields text, which signals the caller to rasterize instead.
func ExtractPDFText(data []byte) (string, bool) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", false
	}

	var out strings.Builder
	for _, stream := range contentStreams(data) {
		text := showTextArgs(stream)
		if text == "" {
			continue
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(text)
	}
	text := strings.TrimSpace(out.String())
	return text, text != ""
}

var streamRe = regexp.MustCompile(`(?s)<<(.*?)>>\s*stream\r?\n`)

// contentStreams returns every decoded stream body in the document.
func contentStreams(data []byte) [][]byte {
	var streams [][]byte
	rest := data
	for {
		loc := streamRe.FindSubmatchIndex(rest)
		if loc == nil {
			break
		}
		dict := rest[loc[2]:loc[3]]
		bodyStart := loc[1]
		end := bytes.Index(rest[bodyStart:], []byte("endstream"))
		if end < 0 {
			break
		}
		body := bytes.TrimRight(rest[bodyStart:bodyStart+end], "\r\n")

		if bytes.Contains(dict, []byte("FlateDecode")) {
			if inflated, err := inflate(body); err == nil {
				body = inflated
			} else {
				body = nil
			}
		} else if bytes.Contains(dict, []byte("Filter")) {
			// Unsupported filter (DCTDecode images and friends); skip.
			body = nil
		}
		if body != nil {
			streams = append(streams, body)
		}
		rest = rest[bodyStart+end:]
	}
	return streams
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

var (
	tjRe    = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	tjArrRe = regexp.MustCompile(`\[((?:[^\[\]\\]|\\.)*)\]\s*TJ`)
	tjStrRe = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

// showTextArgs extracts the literal-string arguments of Tj/TJ operators.
func showTextArgs(stream []byte) string {
	if !bytes.Contains(stream, []byte("Tj")) && !bytes.Contains(stream, []byte("TJ")) {
		return ""
	}
	s := string(stream)
	var parts []string

	type hit struct {
		pos  int
		text string
	}
	var hits []hit

	for _, m := range tjRe.FindAllStringSubmatchIndex(s, -1) {
		hits = append(hits, hit{m[0], unescapePDFString(s[m[2]:m[3]])})
	}
	for _, m := range tjArrRe.FindAllStringSubmatchIndex(s, -1) {
		arr := s[m[2]:m[3]]
		var b strings.Builder
		for _, sm := range tjStrRe.FindAllStringSubmatch(arr, -1) {
			b.WriteString(unescapePDFString(sm[1]))
		}
		hits = append(hits, hit{m[0], b.String()})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	for _, h := range hits {
		if strings.TrimSpace(h.text) != "" {
			parts = append(parts, h.text)
		}
	}
	// Newline operators (T*, ', ") are approximated by the space join.
	return strings.Join(parts, " ")
}

func unescapePDFString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '(', ')', '\\':
			b.WriteByte(s[i])
		case '0', '1', '2', '3', '4', '5', '6', '7':
			// Octal escape, up to three digits.
			j := i
			for j < len(s) && j-i < 3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			if v, err := strconv.ParseUint(s[i:j], 8, 8); err == nil {
				b.WriteByte(byte(v))
			}
			i = j - 1
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// RasterizePDF renders each page to a PNG via pdftoppm so image OCR can run
// on scanned documents with no text layer.
func RasterizePDF(ctx context.Context, data []byte) ([][]byte, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return nil, fmt.Errorf("pdftoppm not available: %w", err)
	}

	dir, err := os.MkdirTemp("", "dockhand-pdf-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(src, data, 0600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, "pdftoppm", "-png", "-r", "300", src, filepath.Join(dir, "page"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil || len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(dir, "page*.png"))
	}
	sort.Strings(matches)

	var pages [][]byte
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		pages = append(pages, b)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("rasterization produced no pages")
	}
	return pages, nil
}
