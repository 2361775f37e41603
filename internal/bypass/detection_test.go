package bypass

import (
	"net/http"
	"testing"
)

func hdr(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name string
		res  Response
		want string
	}{
		{"ok page", Response{StatusCode: 200, Header: hdr("Server", "cloudflare"), Body: []byte("OK")}, ""},
		{"cloudflare header", Response{StatusCode: 403, Header: hdr("Server", "cloudflare")}, "Cloudflare"},
		{"cloudflare body 503", Response{StatusCode: 503, Header: hdr(), Body: []byte("<html>cf-turnstile</html>")}, "Cloudflare"},
		{"akamai header", Response{StatusCode: 403, Header: hdr("Server", "AkamaiGHost")}, "Akamai"},
		{"akamai body", Response{StatusCode: 403, Header: hdr(), Body: []byte("Access Denied... Reference #123.456")}, "Akamai"},
		{"datadome header", Response{StatusCode: 403, Header: hdr("X-DataDome", "1")}, "DataDome"},
		{"datadome body", Response{StatusCode: 403, Header: hdr(), Body: []byte("src='https://geo.captcha-delivery.com/x'")}, "DataDome"},
		{"perimeterx header", Response{StatusCode: 403, Header: hdr("X-Px-Captcha", "required")}, "PerimeterX"},
		{"perimeterx body", Response{StatusCode: 403, Header: hdr(), Body: []byte("window._pxBlock = true;")}, "PerimeterX"},
		{"plain 403", Response{StatusCode: 403, Header: hdr("Server", "nginx"), Body: []byte("forbidden")}, ""},
		{"akamai body on 503", Response{StatusCode: 503, Header: hdr(), Body: []byte("Access Denied Reference #1")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Identify(tt.res, DefaultDetectors()); got != tt.want {
				t.Errorf("Identify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdentify_NilHeader(t *testing.T) {
	if got := Identify(Response{StatusCode: 403, Body: []byte("px-captcha")}, DefaultDetectors()); got != "PerimeterX" {
		t.Errorf("expected PerimeterX with nil header, got %q", got)
	}
}
