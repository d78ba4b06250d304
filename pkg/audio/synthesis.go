package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Synthesizer turns text into a stored audio reference (a file path the
// transport layer streams from). The actual engine is external.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// HTTPSynthesizer talks to a wyoming-piper style endpoint:
// GET /api/text-to-speech?text=...&voice=... streaming a WAV body.
type HTTPSynthesizer struct {
	BaseURL string
	Voice   string
	OutDir  string
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPSynthesizer(baseURL, voice, outDir string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		BaseURL: baseURL,
		Voice:   voice,
		OutDir:  outDir,
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("empty text")
	}

	u, err := url.Parse(s.BaseURL + "/api/text-to-speech")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("text", text)
	if s.Voice != "" {
		q.Set("voice", s.Voice)
	}
	u.RawQuery = q.Encode()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "audio/wav")

	hc := s.Client
	if hc == nil {
		hc = &http.Client{}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("tts http %d: %s", resp.StatusCode, string(b))
	}

	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.OutDir, uuid.NewString()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
