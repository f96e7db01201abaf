// Package render turns a reconciled reply into transport-safe outbound
// messages: it extracts embedded image markers, splits oversized text at
// natural boundaries, and hands chunks and images to the delivery channel.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/claudegram/claudegram/pkg/claudegram/channels"
)

// DefaultMaxMessage is the Telegram text-message limit, used when the
// channel does not report its own.
const DefaultMaxMessage = 4096

// imageMarkerRe matches embedded image references of the form [IMG:<path>].
var imageMarkerRe = regexp.MustCompile(`\[IMG:([^\]]+)\]`)

// imageExts are the file extensions the temp-directory fallback scan picks up.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// ExtractImages collects the image paths referenced by [IMG:...] markers in
// order of appearance and returns the text with all markers stripped.
func ExtractImages(text string) (clean string, paths []string) {
	for _, m := range imageMarkerRe.FindAllStringSubmatch(text, -1) {
		paths = append(paths, m[1])
	}
	return imageMarkerRe.ReplaceAllString(text, ""), paths
}

// SplitMessage splits text into chunks of at most limit bytes, preferring to
// break at the last newline before the limit, then the last space, then a
// hard cut. A natural boundary is only taken past roughly 30% of the limit,
// so short leading lines never produce tiny chunks. The boundary character
// itself is dropped at natural breaks.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxMessage
	}

	var chunks []string
	for len(text) > limit {
		window := text[:limit]
		minBreak := limit * 3 / 10

		cut := -1
		if i := strings.LastIndexByte(window, '\n'); i >= minBreak {
			cut = i
		} else if i := strings.LastIndexByte(window, ' '); i >= minBreak {
			cut = i
		}

		if cut >= 0 {
			chunks = append(chunks, text[:cut])
			text = text[cut+1:]
			continue
		}

		// Hard cut; back off to a rune boundary.
		for cut = limit; cut > 0 && !utf8.RuneStart(text[cut]); cut-- {
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// Renderer delivers replies through one channel.
type Renderer struct {
	ch      channels.Channel
	limit   int
	tempDir string
	logger  *slog.Logger
}

// New creates a Renderer for ch. tempDir is the well-known directory scanned
// for images written directly by tools when a reply carries no markers; an
// empty tempDir disables the scan.
func New(ch channels.Channel, tempDir string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	limit := DefaultMaxMessage
	if l := ch.MaxMessageLength(); l > 0 {
		limit = l
	}
	return &Renderer{
		ch:      ch,
		limit:   limit,
		tempDir: tempDir,
		logger:  logger.With("component", "render", "channel", ch.Name()),
	}
}

// Deliver sends text (chunked) and any referenced images to chatID.
// startedAt bounds the temp-directory fallback scan: only images created
// after the request began are picked up. Image failures are logged and
// skipped; a chunk failure aborts and is returned.
func (r *Renderer) Deliver(ctx context.Context, chatID, text string, startedAt time.Time) error {
	clean, images := ExtractImages(text)
	clean = strings.TrimSpace(clean)

	if clean != "" {
		for _, chunk := range SplitMessage(clean, r.limit) {
			if err := r.sendChunk(ctx, chatID, chunk); err != nil {
				return err
			}
		}
	}

	if len(images) == 0 {
		images = r.scanTempDir(startedAt)
	}
	for _, path := range images {
		r.sendImage(ctx, chatID, path)
	}
	return nil
}

// sendChunk sends one chunk, retrying as plain text when the transport
// rejects the formatted version (unbalanced markup tokens).
func (r *Renderer) sendChunk(ctx context.Context, chatID, chunk string) error {
	err := r.ch.Send(ctx, chatID, &channels.OutgoingMessage{Content: chunk})
	if err == nil {
		return nil
	}
	r.logger.Debug("formatted send rejected, retrying plain", "error", err)
	if err := r.ch.Send(ctx, chatID, &channels.OutgoingMessage{Content: chunk, Plain: true}); err != nil {
		return fmt.Errorf("sending chunk: %w", err)
	}
	return nil
}

// sendImage reads, sends and then removes one temporary image, best-effort.
func (r *Renderer) sendImage(ctx context.Context, chatID, path string) {
	mc, ok := r.ch.(channels.MediaChannel)
	if !ok {
		r.logger.Warn("channel cannot send photos, dropping image", "path", path)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.logger.Warn("reading image failed", "path", path, "error", err)
		return
	}
	if err := mc.SendPhoto(ctx, chatID, &channels.Photo{
		Data:     data,
		Filename: filepath.Base(path),
	}); err != nil {
		r.logger.Warn("sending image failed", "path", path, "error", err)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("removing temp image failed", "path", path, "error", err)
	}
}

// scanTempDir finds images written after startedAt by tools that save files
// directly instead of emitting markers. Tolerant of races with a tool still
// writing: unreadable entries are skipped.
func (r *Renderer) scanTempDir(startedAt time.Time) []string {
	if r.tempDir == "" {
		return nil
	}
	entries, err := os.ReadDir(r.tempDir)
	if err != nil {
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(startedAt) {
			paths = append(paths, filepath.Join(r.tempDir, e.Name()))
		}
	}
	return paths
}
