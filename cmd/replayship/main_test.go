package main

import (
	"archive/tar"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bft-labs/replayship/internal/cliconfig"
	"github.com/bft-labs/replayship/internal/codec"
	"github.com/bft-labs/replayship/internal/devserver"
	"github.com/bft-labs/replayship/internal/domain"
)

func TestSeverityOf(t *testing.T) {
	tests := map[string]string{
		"server started":            "info",
		"2024/01/01 ERROR db down":  "error",
		"panic: nil map":            "error",
		"WARN slow query":           "warning",
		"level=debug msg=cache hit": "debug",
	}
	for line, want := range tests {
		if got := severityOf(line); got != want {
			t.Errorf("severityOf(%q) = %q, want %q", line, got, want)
		}
	}
}

func testBatch() []byte {
	ts := time.UnixMilli(1_700_000_000_000)
	var out []byte
	out = append(out, codec.Encode(codec.BatchMeta{FirstIndex: 3}, ts)...)
	out = append(out, codec.Encode(codec.Log{Severity: "info", Content: "hello"}, ts)...)
	return out
}

func TestInspect_RawBatch(t *testing.T) {
	var out bytes.Buffer
	if err := inspect(&out, testBatch(), false); err != nil {
		t.Fatalf("inspect() error = %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "hello") || !strings.Contains(s, "2 messages") {
		t.Errorf("unexpected output:\n%s", s)
	}
}

func TestInspect_GzipBatchJSON(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write(testBatch())
	_ = zw.Close()

	var out bytes.Buffer
	if err := inspect(&out, gz.Bytes(), true); err != nil {
		t.Fatalf("inspect() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d JSON lines, want 2:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[1], `"kind":"Log"`) || !strings.Contains(lines[1], `"Content":"hello"`) {
		t.Errorf("unexpected JSON line %s", lines[1])
	}
}

func TestInspect_Archive(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, name := range []string{"1000_1.jpeg", "1000_2.jpeg"} {
		data := []byte("jpeg")
		_ = tw.WriteHeader(&tar.Header{Name: name, Mode: 0o600, Size: int64(len(data))})
		_, _ = tw.Write(data)
	}
	_ = tw.Close()
	_ = zw.Close()

	var out bytes.Buffer
	if err := inspect(&out, buf.Bytes(), false); err != nil {
		t.Fatalf("inspect() error = %v", err)
	}
	if !strings.Contains(out.String(), "1000_2.jpeg") || !strings.Contains(out.String(), "2 frames") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestInspect_Corrupt(t *testing.T) {
	var out bytes.Buffer
	if err := inspect(&out, []byte{byte(domain.KindLog), 0x01, 0x7f}, false); err == nil {
		t.Error("expected error for truncated input")
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestDirRenderer_Newest(t *testing.T) {
	dir := t.TempDir()
	r := newDirRenderer(dir)

	if _, err := r.Render(context.Background()); err != errNoFrame {
		t.Fatalf("Render() on empty dir error = %v", err)
	}

	writePNG(t, filepath.Join(dir, "old.png"), 4, 4)
	writePNG(t, filepath.Join(dir, "new.png"), 8, 2)
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(filepath.Join(dir, "old.png"), old, old); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	img, err := r.Render(context.Background())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 2 {
		t.Errorf("rendered %v, want the newest 8x2 image", img.Bounds())
	}
}

func TestRunRecord_StreamsLines(t *testing.T) {
	srv := devserver.New(devserver.Config{}, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	cfg := cliconfig.DefaultConfig()
	cfg.ProjectKey = "pk"
	cfg.ServiceURL = ts.URL
	cfg.DataDir = t.TempDir()
	cfg.AutoRecord = false
	cfg.Crashes = false
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	in := strings.NewReader("booting\nERROR disk full\n")
	var out bytes.Buffer
	if err := runRecord(context.Background(), loadedConfig{Config: cfg, Base: cfg}, in, &out); err != nil {
		t.Fatalf("runRecord() error = %v", err)
	}
	if !strings.Contains(out.String(), "recorded 2 lines") {
		t.Errorf("output = %q", out.String())
	}

	sessions := srv.Store().Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	var logs []string
	for _, m := range srv.Store().Messages(sessions[0].ID) {
		if m.Kind != domain.KindLog {
			continue
		}
		ev, err := codec.DecodeEvent(m)
		if err != nil {
			t.Fatal(err)
		}
		l := ev.(codec.Log)
		logs = append(logs, l.Severity+":"+l.Content)
	}
	want := []string{"info:booting", "error:ERROR disk full"}
	if strings.Join(logs, "|") != strings.Join(want, "|") {
		t.Errorf("logs = %v, want %v", logs, want)
	}
}

func TestRunRecord_AutoRecord(t *testing.T) {
	srv := devserver.New(devserver.Config{}, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	cfg := cliconfig.DefaultConfig()
	cfg.ProjectKey = "pk"
	cfg.ServiceURL = ts.URL
	cfg.DataDir = t.TempDir()
	cfg.Crashes = false
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runRecord(context.Background(), loadedConfig{Config: cfg, Base: cfg}, strings.NewReader("one\n"), &out); err != nil {
		t.Fatalf("runRecord() error = %v", err)
	}
	if !strings.Contains(out.String(), "recorded 1 lines") {
		t.Errorf("output = %q", out.String())
	}
	if n := len(srv.Store().Sessions()); n > 1 {
		t.Errorf("sessions = %d, want at most 1", n)
	}
}
