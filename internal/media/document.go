package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// PdfToText extracts plain text from PDF bytes by shelling out to the
// pdftotext binary. The PDF is staged in the scratch directory and removed
// on every exit path.
type PdfToText struct {
	binPath    string
	scratchDir string
}

// NewPdfToText builds the extractor. binPath defaults to "pdftotext" on PATH.
func NewPdfToText(binPath, scratchDir string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, scratchDir: scratchDir}
}

var runPdfToTextForTest func(ctx context.Context, binPath, pdfPath string) ([]byte, error)

// Extract writes the PDF to a scratch file and reads the extracted text from
// pdftotext's stdout.
func (p *PdfToText) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("document payload is empty")
	}
	pdfPath := filepath.Join(p.scratchDir, uuid.NewString()+".pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return "", fmt.Errorf("stage document: %w", err)
	}
	defer func() {
		_ = os.Remove(pdfPath)
	}()

	run := runPdfToTextForTest
	if run == nil {
		run = runPdfToText
	}
	out, err := run(ctx, p.binPath, pdfPath)
	if err != nil {
		return "", fmt.Errorf("pdftotext: %w", err)
	}
	return string(out), nil
}

func runPdfToText(ctx context.Context, binPath, pdfPath string) ([]byte, error) {
	// "-" sends the extracted text to stdout.
	cmd := exec.CommandContext(ctx, binPath, "-layout", pdfPath, "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
