package fingerprint

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{"", ProfileGo, false},
		{"Chrome", ProfileChrome, false},
		{" firefox ", ProfileFirefox, false},
		{"safari", ProfileSafari, false},
		{"random", ProfileRandom, false},
		{"netscape", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProfile(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProfile(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseProfile(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTransport_Profiles(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	for _, p := range []Profile{ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo} {
		t.Run(string(p), func(t *testing.T) {
			rt, err := Transport(Options{Profile: p, InsecureSkipVerify: true})
			if err != nil {
				t.Fatalf("transport for %s: %v", p, err)
			}

			client := &http.Client{Transport: rt}
			resp, err := client.Get(ts.URL)
			if err != nil {
				t.Fatalf("request failed for profile %s: %v", p, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 OK, got %d for profile %s", resp.StatusCode, p)
			}
			if resp.ProtoMajor != 1 {
				t.Errorf("expected HTTP/1.x, got %s", resp.Proto)
			}
		})
	}
}

func TestTransport_UnknownProfile(t *testing.T) {
	if _, err := Transport(Options{Profile: "unknown_browser"}); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestTransport_Proxy(t *testing.T) {
	called := false
	rt, err := Transport(Options{Profile: ProfileChrome, Proxy: func(*http.Request) (*url.URL, error) {
		called = true
		return nil, nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	tr := rt.(*http.Transport)
	if _, err := tr.Proxy(httptest.NewRequest(http.MethodGet, "https://example.com", nil)); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("proxy func was not installed")
	}
}
