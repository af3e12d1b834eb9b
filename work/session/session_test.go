package session

import (
	"testing"
	"time"
)

func TestPutGet(t *testing.T) {
	s := NewStore(time.Minute)

	s.Put("93001", "sess=abc")
	got, ok := s.Get("93001")
	if !ok || got != "sess=abc" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	if _, ok := s.Get("99999"); ok {
		t.Error("unknown stream id returned a session")
	}
}

func TestPutIgnoresEmpty(t *testing.T) {
	s := NewStore(time.Minute)
	s.Put("", "sess=abc")
	s.Put("93001", "")
	if _, ok := s.Get("93001"); ok {
		t.Error("empty cookies were stored")
	}
}

func TestExpiry(t *testing.T) {
	s := NewStore(10 * time.Millisecond)
	s.Put("93001", "sess=abc")

	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Get("93001"); ok {
		t.Error("expired session still readable")
	}
}

func TestPutRefreshesTTL(t *testing.T) {
	s := NewStore(50 * time.Millisecond)
	s.Put("93001", "sess=abc")

	time.Sleep(30 * time.Millisecond)
	s.Put("93001", "sess=def")
	time.Sleep(30 * time.Millisecond)

	got, ok := s.Get("93001")
	if !ok || got != "sess=def" {
		t.Errorf("refreshed session = %q, %v; want sess=def, true", got, ok)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "cookie header", value: "a=1; b=2"},
		{name: "referer", value: "https://play.example.com/play/steam93001.html"},
		{name: "empty", value: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeToken(EncodeToken(tt.value)); got != tt.value {
				t.Errorf("round trip = %q, want %q", got, tt.value)
			}
		})
	}
}

func TestDecodeTokenGarbage(t *testing.T) {
	if got := DecodeToken("not!!base64"); got != "" {
		t.Errorf("garbage token decoded to %q, want empty", got)
	}
}
