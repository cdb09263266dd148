package firewall

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

// blockedBody is the stable JSON/XML shape described in the external
// interface contract: {"error":"blocked","message":"...","action":"blocked"}.
type blockedBody struct {
	XMLName xml.Name `json:"-" xml:"blocked"`
	Error   string   `json:"error" xml:"error"`
	Message string   `json:"message" xml:"message"`
	Action  string   `json:"action" xml:"action"`
}

// RenderBlockedResponse builds the 403 response for a blocked request,
// negotiating the body representation against the request's Accept header:
// application/json, then application/xml, then text/html, falling back to
// text/plain. message must contain the word "malware" (case-insensitive)
// for malware-specific blocks so clients can surface a specific notice.
func RenderBlockedResponse(req *http.Request, message string) *http.Response {
	accept := req.Header.Get("Accept")
	body := blockedBody{Error: "blocked", Message: message, Action: "blocked"}

	contentType, payload := renderBody(accept, body)

	resp := &http.Response{
		StatusCode: http.StatusForbidden,
		Status:     "403 Forbidden",
		Proto:      req.Proto,
		ProtoMajor: req.ProtoMajor,
		ProtoMinor: req.ProtoMinor,
		Header:     make(http.Header),
		Request:    req,
	}
	resp.Header.Set("Content-Type", contentType)
	setBody(resp, payload)
	return resp
}

func renderBody(accept string, body blockedBody) (contentType string, payload []byte) {
	for _, want := range preferenceOrder(accept) {
		switch want {
		case "application/json":
			if b, err := json.Marshal(body); err == nil {
				return "application/json", b
			}
		case "application/xml":
			if b, err := xml.Marshal(body); err == nil {
				return "application/xml", b
			}
		case "text/html":
			html := fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", htmlEscape(body.Error), htmlEscape(body.Message))
			return "text/html; charset=utf-8", []byte(html)
		}
	}
	return "text/plain; charset=utf-8", []byte(body.Message)
}

// preferenceOrder returns the renderer types to try in order, restricted
// to those actually acceptable per the Accept header (an empty or "*/*"
// header accepts everything, so the full default order applies).
func preferenceOrder(accept string) []string {
	order := []string{"application/json", "application/xml", "text/html"}
	if accept == "" || accept == "*/*" {
		return order
	}
	var filtered []string
	for _, ct := range order {
		if acceptsType(accept, ct) {
			filtered = append(filtered, ct)
		}
	}
	return filtered
}

func acceptsType(accept, contentType string) bool {
	mainType := strings.SplitN(contentType, "/", 2)[0]
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if part == "*/*" || part == contentType || part == mainType+"/*" {
			return true
		}
	}
	return false
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
