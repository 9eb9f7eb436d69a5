package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/altavoz-ai/altavoz/pkg/audio"
	"github.com/altavoz-ai/altavoz/pkg/provider/tts"
)

func testVoice() tts.VoiceProfile {
	return tts.VoiceProfile{
		Provider:        "eleven_labs",
		VoiceID:         "v-abc",
		Model:           "eleven_turbo_v2_5",
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Speed:           1,
		Encoding:        audio.Mulaw,
		SampleRate:      8000,
		Language:        "es",
	}
}

func TestSynthesize_RequestShape(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	var gotBody synthesisRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte{0xFF, 0xFF})
	}))
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ch, err := p.Synthesize(context.Background(), "hola", testVoice())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	for range ch {
	}

	if gotPath != "/text-to-speech/v-abc/stream" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "output_format=ulaw_8000" {
		t.Errorf("query = %q, want ulaw_8000 for mulaw voices", gotQuery)
	}
	if gotKey != "test-key" {
		t.Errorf("xi-api-key = %q", gotKey)
	}
	if gotBody.Text != "hola" || gotBody.ModelID != "eleven_turbo_v2_5" {
		t.Errorf("body = %+v", gotBody)
	}
	if gotBody.VoiceSettings == nil || gotBody.VoiceSettings.Stability != 0.5 {
		t.Errorf("voice settings = %+v", gotBody.VoiceSettings)
	}
}

func TestSynthesize_StreamsBodyInChunks(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, streamChunkSize*2+100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	p, err := New("k", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ch, err := p.Synthesize(context.Background(), "texto largo", testVoice())
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	var got []byte
	chunks := 0
	for c := range ch {
		got = append(got, c...)
		chunks++
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled %d bytes, want %d", len(got), len(payload))
	}
	if chunks != 3 {
		t.Errorf("received %d chunks, want 3 (two full + tail)", chunks)
	}
}

func TestSynthesize_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New("k", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = p.Synthesize(context.Background(), "hola", testVoice())
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q should carry the status code", err)
	}
}

func TestOutputFormat(t *testing.T) {
	linear := testVoice()
	linear.Encoding = audio.Linear16
	linear.SampleRate = 16000
	got, err := outputFormat(linear)
	if err != nil {
		t.Fatalf("outputFormat: %v", err)
	}
	if got != "pcm_16000" {
		t.Errorf("format = %q, want pcm_16000", got)
	}

	linear.SampleRate = 11025
	if _, err := outputFormat(linear); err == nil {
		t.Error("unsupported sample rate must error")
	}
}
