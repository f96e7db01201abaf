package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/claudegram/claudegram/pkg/claudegram/channels"
)

// fakeChannel captures outbound traffic and can reject formatted sends.
type fakeChannel struct {
	sent         []*channels.OutgoingMessage
	photos       []*channels.Photo
	rejectMarkup bool
	maxLen       int
}

func (c *fakeChannel) Name() string                   { return "fake" }
func (c *fakeChannel) Connect(context.Context) error  { return nil }
func (c *fakeChannel) Disconnect() error              { return nil }
func (c *fakeChannel) IsConnected() bool              { return true }
func (c *fakeChannel) Health() channels.HealthStatus  { return channels.HealthStatus{Connected: true} }
func (c *fakeChannel) Receive() <-chan *channels.IncomingMessage {
	return nil
}
func (c *fakeChannel) MaxMessageLength() int {
	if c.maxLen > 0 {
		return c.maxLen
	}
	return DefaultMaxMessage
}

func (c *fakeChannel) Send(_ context.Context, _ string, msg *channels.OutgoingMessage) error {
	if c.rejectMarkup && !msg.Plain {
		return errors.New("can't parse entities")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) SendPhoto(_ context.Context, _ string, photo *channels.Photo) error {
	c.photos = append(c.photos, photo)
	return nil
}

func (c *fakeChannel) DownloadMedia(context.Context, *channels.IncomingMessage) ([]byte, string, error) {
	return nil, "", nil
}

func TestExtractImages(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantClean string
		wantPaths []string
	}{
		{
			name:      "no markers",
			text:      "plain reply",
			wantClean: "plain reply",
		},
		{
			name:      "single marker stripped",
			text:      "Done [IMG:/tmp/a.png] bye",
			wantClean: "Done  bye",
			wantPaths: []string{"/tmp/a.png"},
		},
		{
			name:      "multiple markers in order",
			text:      "[IMG:/tmp/1.png]text[IMG:/tmp/2.jpg]",
			wantClean: "text",
			wantPaths: []string{"/tmp/1.png", "/tmp/2.jpg"},
		},
		{
			name:      "path with spaces",
			text:      "see [IMG:/tmp/my chart.png]",
			wantClean: "see ",
			wantPaths: []string{"/tmp/my chart.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, paths := ExtractImages(tt.text)
			if clean != tt.wantClean {
				t.Errorf("clean = %q, want %q", clean, tt.wantClean)
			}
			if len(paths) != len(tt.wantPaths) {
				t.Fatalf("paths = %v, want %v", paths, tt.wantPaths)
			}
			for i := range paths {
				if paths[i] != tt.wantPaths[i] {
					t.Errorf("path %d = %q, want %q", i, paths[i], tt.wantPaths[i])
				}
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		got := SplitMessage("hello", 100)
		if len(got) != 1 || got[0] != "hello" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("empty text yields nothing", func(t *testing.T) {
		if got := SplitMessage("", 100); len(got) != 0 {
			t.Errorf("got %v, want empty", got)
		}
	})

	t.Run("prefers newline boundary", func(t *testing.T) {
		text := strings.Repeat("a", 60) + "\n" + strings.Repeat("b", 60)
		got := SplitMessage(text, 100)
		if len(got) != 2 {
			t.Fatalf("got %d chunks, want 2", len(got))
		}
		if got[0] != strings.Repeat("a", 60) || got[1] != strings.Repeat("b", 60) {
			t.Errorf("chunks = %q", got)
		}
	})

	t.Run("falls back to space boundary", func(t *testing.T) {
		text := strings.Repeat("a", 60) + " " + strings.Repeat("b", 60)
		got := SplitMessage(text, 100)
		if len(got) != 2 {
			t.Fatalf("got %d chunks, want 2", len(got))
		}
		if got[0] != strings.Repeat("a", 60) {
			t.Errorf("first chunk = %q", got[0])
		}
	})

	t.Run("ignores boundaries before the minimum", func(t *testing.T) {
		// The only newline sits at 10% of the limit; a hard cut is better
		// than a tiny chunk.
		text := strings.Repeat("a", 10) + "\n" + strings.Repeat("b", 200)
		got := SplitMessage(text, 100)
		if len(got[0]) != 100 {
			t.Errorf("first chunk length = %d, want hard cut at 100", len(got[0]))
		}
	})

	t.Run("hard cut respects rune boundaries", func(t *testing.T) {
		text := strings.Repeat("ü", 60) // 120 bytes, no natural boundaries
		got := SplitMessage(text, 101)  // odd limit lands mid-rune
		for i, chunk := range got {
			if !strings.HasPrefix(strings.Repeat("ü", 60), chunk) && i == 0 {
				t.Errorf("chunk %d is not valid rune sequence: %q", i, chunk)
			}
			if len(chunk) > 101 {
				t.Errorf("chunk %d exceeds limit: %d bytes", i, len(chunk))
			}
		}
		if strings.Join(got, "") != text {
			t.Error("hard cuts lost bytes")
		}
	})

	t.Run("long text reconstructs", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 500; i++ {
			sb.WriteString("line of sensible length number ")
			sb.WriteString(strings.Repeat("x", i%17))
			sb.WriteByte('\n')
		}
		text := sb.String()

		got := SplitMessage(text, DefaultMaxMessage)
		if len(got) < 2 {
			t.Fatalf("expected multiple chunks for %d bytes", len(text))
		}
		for i, chunk := range got {
			if len(chunk) > DefaultMaxMessage {
				t.Errorf("chunk %d exceeds limit: %d", i, len(chunk))
			}
		}
		// Natural breaks drop the boundary character, so compare modulo
		// whitespace.
		want := strings.Join(strings.Fields(text), " ")
		joined := strings.Join(strings.Fields(strings.Join(got, " ")), " ")
		if joined != want {
			t.Error("reassembled chunks lost content")
		}
	})
}

func TestRenderer_DeliverChunksAndImages(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "chart.png")
	if err := os.WriteFile(img, []byte("png bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	ch := &fakeChannel{}
	r := New(ch, "", nil)

	err := r.Deliver(context.Background(), "chat", "Done [IMG:"+img+"] bye", time.Now())
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(ch.sent) != 1 || ch.sent[0].Content != "Done  bye" {
		t.Errorf("sent = %+v, want single 'Done  bye'", ch.sent)
	}
	if len(ch.photos) != 1 || ch.photos[0].Filename != "chart.png" {
		t.Fatalf("photos = %+v", ch.photos)
	}
	if _, err := os.Stat(img); !os.IsNotExist(err) {
		t.Error("temp image not removed after successful send")
	}
}

func TestRenderer_PlainRetryOnMarkupRejection(t *testing.T) {
	ch := &fakeChannel{rejectMarkup: true}
	r := New(ch, "", nil)

	if err := r.Deliver(context.Background(), "chat", "*broken markdown", time.Now()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(ch.sent))
	}
	if !ch.sent[0].Plain {
		t.Error("retry was not sent plain")
	}
}

func TestRenderer_TempDirFallbackScan(t *testing.T) {
	dir := t.TempDir()

	// An image from before the request must not be picked up.
	old := filepath.Join(dir, "old.png")
	if err := os.WriteFile(old, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(dir, "fresh.png")
	if err := os.WriteFile(fresh, []byte("fresh"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Non-image files are ignored regardless of age.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	ch := &fakeChannel{}
	r := New(ch, dir, nil)
	if err := r.Deliver(context.Background(), "chat", "reply without markers", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(ch.photos) != 1 || ch.photos[0].Filename != "fresh.png" {
		t.Errorf("photos = %+v, want only fresh.png", ch.photos)
	}
}

func TestRenderer_MissingImageSkipped(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, "", nil)

	err := r.Deliver(context.Background(), "chat", "see [IMG:/nonexistent/gone.png]", time.Now())
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Errorf("text chunks = %d, want 1", len(ch.sent))
	}
	if len(ch.photos) != 0 {
		t.Errorf("photos = %+v, want none", ch.photos)
	}
}
