// Package ocr turns receipt images into raw text for extraction.
package ocr

import (
	"context"
	"errors"
	"strings"
)

// ErrNoText is returned when an image contains no recognizable text
var ErrNoText = errors.New("no text recognized")

// Recognizer reads the text printed on a receipt image
type Recognizer interface {
	// Recognize returns the text of image, or ErrNoText
	Recognize(ctx context.Context, image []byte, contentType string) (string, error)
	// Close releases the recognizer's resources
	Close() error
}

// noTextMarker is what vision models are told to answer for blank images
const noTextMarker = "NO_TEXT"

// transcribePrompt asks a vision model for a verbatim transcript
const transcribePrompt = `Transcribe all text printed on this receipt exactly as it appears, line by line, top to bottom.
- Keep item names, quantities and amounts on the same line as printed.
- Do not summarize, translate, correct or reformat anything.
- Do not add commentary or markdown.
If the image contains no readable text, answer exactly ` + noTextMarker + `.`

// cleanTranscript trims model output and maps empty answers to ErrNoText
func cleanTranscript(text string) (string, error) {
	text = strings.TrimSpace(text)
	// Remove markdown code blocks if present
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```text")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	if text == "" || text == noTextMarker {
		return "", ErrNoText
	}
	return text, nil
}
