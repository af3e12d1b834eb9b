package xxtea

import (
	"bytes"
	"testing"
)

var testKey = []byte("ABCDEFGHIJKLMNOPQRSTUVWX")

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "single byte", data: "a"},
		{name: "word aligned", data: "abcd"},
		{name: "short json", data: `{"url":"https://x/y.m3u8"}`},
		{name: "longer payload", data: `{"url":"https://cloud.example.com/live/93001.m3u8?auth_key=1700000000-0-0-deadbeef","ts":1700000000000}`},
		{name: "utf8", data: "云直播① 高清信号"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := Encrypt([]byte(tt.data), testKey)
			if ct == nil {
				t.Fatal("Encrypt returned nil")
			}
			if bytes.Equal(ct, []byte(tt.data)) {
				t.Fatal("ciphertext equals plaintext")
			}
			pt := Decrypt(ct, testKey)
			if string(pt) != tt.data {
				t.Errorf("round trip = %q, want %q", pt, tt.data)
			}
		})
	}
}

func TestDecryptRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not word aligned", data: []byte{1, 2, 3}},
		{name: "single word", data: []byte{1, 2, 3, 4}},
		{name: "random words", data: []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04, 0xff, 0xff, 0xff, 0x7f}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decrypt(tt.data, testKey); got != nil {
				t.Errorf("Decrypt(%v) = %v, want nil", tt.data, got)
			}
		})
	}
}

func TestWrongKeyDoesNotRoundTrip(t *testing.T) {
	plain := []byte(`{"url":"https://x/y.m3u8"}`)
	ct := Encrypt(plain, testKey)
	pt := Decrypt(ct, []byte("notthekeynotthekeynotthe"))
	if bytes.Equal(pt, plain) {
		t.Fatal("wrong key recovered plaintext")
	}
}

func TestShortKeyIsZeroPadded(t *testing.T) {
	plain := []byte("payload body")
	ct := Encrypt(plain, []byte("short"))
	if got := Decrypt(ct, []byte("short")); string(got) != string(plain) {
		t.Errorf("short key round trip = %q, want %q", got, plain)
	}
}
