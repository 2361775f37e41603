package fingerprint

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile names a browser TLS ClientHello to present when fetching articles.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // crypto/tls defaults
	ProfileRandom  Profile = "random" // randomized uTLS hello
)

// ParseProfile maps a config value to a Profile. Empty means ProfileGo.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileGo, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom:
		return p, nil
	default:
		return "", fmt.Errorf("unknown tls profile %q", s)
	}
}

// Options configures the transport built by Transport.
type Options struct {
	Profile Profile
	// Proxy is optional; it becomes http.Transport.Proxy.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Only for tests against self-signed servers.
	InsecureSkipVerify bool
}

// Transport returns an http.RoundTripper presenting the requested ClientHello.
// Non-Go profiles advertise only http/1.1 in ALPN, since the returned conn is not a
// *tls.Conn and net/http cannot upgrade it to HTTP/2.
func Transport(opts Options) (http.RoundTripper, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		base.Proxy = opts.Proxy
	}

	var helloID utls.ClientHelloID
	switch opts.Profile {
	case ProfileGo, "":
		if opts.InsecureSkipVerify {
			base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		return base, nil
	case ProfileChrome:
		helloID = utls.HelloChrome_Auto
	case ProfileFirefox:
		helloID = utls.HelloFirefox_Auto
	case ProfileSafari:
		helloID = utls.HelloIOS_Auto
	case ProfileRandom:
		helloID = utls.HelloRandomizedNoALPN
	default:
		return nil, fmt.Errorf("unknown tls profile %q", opts.Profile)
	}

	dial := base.DialContext
	base.ForceAttemptHTTP2 = false
	base.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		rawConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn, err := handshake(ctx, rawConn, host, helloID, opts.InsecureSkipVerify)
		if err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("utls handshake with %s: %w", host, err)
		}
		return uConn, nil
	}
	return base, nil
}

func handshake(ctx context.Context, conn net.Conn, host string, id utls.ClientHelloID, insecure bool) (*utls.UConn, error) {
	cfg := &utls.Config{ServerName: host, InsecureSkipVerify: insecure}

	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		// Randomized hellos have no fixed spec; use them as-is.
		uConn := utls.UClient(conn, cfg, id)
		return uConn, uConn.HandshakeContext(ctx)
	}

	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	uConn := utls.UClient(conn, cfg, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("apply %s preset: %w", id.Str(), err)
	}
	return uConn, uConn.HandshakeContext(ctx)
}
