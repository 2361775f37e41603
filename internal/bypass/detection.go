package bypass

import (
	"bytes"
	"net/http"
	"strings"
)

// Response is the part of a fetch outcome the detectors look at.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Detector reports whether a bot-protection vendor challenged or blocked the request.
type Detector func(res Response) (detected bool, vendor string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Identify runs res through detectors and returns the first vendor that matched,
// or "" when none did. Only 403 and 503 responses are considered.
func Identify(res Response, detectors []Detector) string {
	if res.StatusCode != http.StatusForbidden && res.StatusCode != http.StatusServiceUnavailable {
		return ""
	}
	for _, d := range detectors {
		if ok, vendor := d(res); ok {
			return vendor
		}
	}
	return ""
}

func serverIs(res Response, name string) bool {
	return strings.Contains(strings.ToLower(res.Header.Get("Server")), name)
}

func bodyHasAny(body []byte, needles ...string) bool {
	for _, n := range needles {
		if bytes.Contains(body, []byte(n)) {
			return true
		}
	}
	return false
}

func detectCloudflare(res Response) (bool, string) {
	if serverIs(res, "cloudflare") ||
		bodyHasAny(res.Body, "cf-browser-verification", "cloudflare-nginx", "cf-turnstile", "Attention Required! | Cloudflare") {
		return true, "Cloudflare"
	}
	return false, ""
}

func detectAkamai(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	// Akamai's generic block page carries a "Reference #" id.
	if serverIs(res, "akamai") ||
		(bytes.Contains(res.Body, []byte("Reference #")) && bytes.Contains(res.Body, []byte("Access Denied"))) {
		return true, "Akamai"
	}
	return false, ""
}

func detectDataDome(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if serverIs(res, "datadome") ||
		res.Header.Get("X-DataDome") != "" || res.Header.Get("X-DataDome-Response") != "" ||
		bodyHasAny(res.Body, "geo.captcha-delivery.com", "datadome") {
		return true, "DataDome"
	}
	return false, ""
}

func detectPerimeterX(res Response) (bool, string) {
	if res.StatusCode != http.StatusForbidden {
		return false, ""
	}
	if res.Header.Get("X-Px-Captcha") != "" ||
		bodyHasAny(res.Body, "client.perimeterx.net", "px-captcha", "_pxBlock") {
		return true, "PerimeterX"
	}
	return false, ""
}
