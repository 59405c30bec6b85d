// ABOUTME: Tests for the raw HTTP transport
// ABOUTME: Covers request parsing, malformed input, and response framing

package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

func parse(t *testing.T, raw string) (*Request, error) {
	t.Helper()
	return readRequest(bufio.NewReader(strings.NewReader(raw)))
}

func TestReadRequest_WithContentLength(t *testing.T) {
	raw := "POST /execute HTTP/1.1\r\n" +
		"Host: localhost\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 15\r\n" +
		"\r\n" +
		`{"tool":"test"}`

	req, err := parse(t, raw)
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	if req.Method != "POST" || req.Path != "/execute" {
		t.Errorf("parsed %s %s", req.Method, req.Path)
	}
	if string(req.Body) != `{"tool":"test"}` {
		t.Errorf("body = %q", req.Body)
	}
	if req.Header("Content-Type") != "application/json" {
		t.Errorf("header lookup failed: %q", req.Header("Content-Type"))
	}
}

func TestReadRequest_BodyToEOF(t *testing.T) {
	raw := "POST /mcp HTTP/1.1\r\n\r\n{\"jsonrpc\":\"2.0\"}"
	req, err := parse(t, raw)
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	if string(req.Body) != `{"jsonrpc":"2.0"}` {
		t.Errorf("body = %q", req.Body)
	}
}

func TestReadRequest_QueryString(t *testing.T) {
	raw := "GET /api/agents/a1/messages?limit=5 HTTP/1.1\r\n\r\n"
	req, err := parse(t, raw)
	if err != nil {
		t.Fatalf("readRequest failed: %v", err)
	}
	if req.Path != "/api/agents/a1/messages" {
		t.Errorf("path = %q", req.Path)
	}
	if req.Query.Get("limit") != "5" {
		t.Errorf("limit = %q", req.Query.Get("limit"))
	}
}

func TestReadRequest_Malformed(t *testing.T) {
	cases := []string{
		"GET\r\n\r\n",
		"GET /health\r\n\r\n",
		"GET /health HTTP/1.1 extra\r\n\r\n",
		"",
		"GET /health HTTP/1.1\r\nno-colon-header\r\n\r\n",
		"POST /x HTTP/1.1\r\nContent-Length: nope\r\n\r\n",
		"POST /x HTTP/1.1\r\nContent-Length: 10\r\n\r\nshort",
	}
	for _, raw := range cases {
		if _, err := parse(t, raw); err == nil {
			t.Errorf("expected parse failure for %q", raw)
		}
	}
}

func TestReadRequest_InvalidUTF8(t *testing.T) {
	raw := "POST /execute HTTP/1.1\r\nContent-Length: 2\r\n\r\n\xff\xfe"
	if _, err := parse(t, raw); err == nil {
		t.Error("expected rejection of invalid UTF-8 body")
	}
}

func TestWriteResponse_Framing(t *testing.T) {
	var buf strings.Builder
	err := writeResponse(&buf, &Response{Status: 200, Body: map[string]any{"ok": true}})
	if err != nil {
		t.Fatalf("writeResponse failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("status line: %q", out)
	}
	if !strings.Contains(out, "Connection: close\r\n") {
		t.Error("missing Connection: close")
	}
	if !strings.Contains(out, "Content-Type: application/json\r\n") {
		t.Error("missing content type")
	}
	body := out[strings.Index(out, "\r\n\r\n")+4:]
	if body != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
	if !strings.Contains(out, fmt.Sprintf("Content-Length: %d\r\n", len(body))) {
		t.Error("content length does not match body")
	}
}

// roundTrip sends one raw request to a Transport over a real TCP connection.
func roundTrip(t *testing.T, tr *Transport, raw string) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go tr.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// Half-close like an EOF-framing client; these must still be served
	conn.(*net.TCPConn).CloseWrite()

	out, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return string(out)
}

func TestTransport_EndToEnd(t *testing.T) {
	tr := NewTransport(func(req *Request) *Response {
		return &Response{Status: 200, Body: map[string]any{"path": req.Path}}
	}, nil)

	out := roundTrip(t, tr, "GET /health HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("response: %q", out)
	}
	if !strings.Contains(out, `{"path":"/health"}`) {
		t.Errorf("response body missing: %q", out)
	}
}

// A stock net/http client never half-closes after a GET and sends no
// Content-Length; the transport must answer without waiting for EOF.
func TestTransport_StandardClientGet(t *testing.T) {
	tr := NewTransport(func(req *Request) *Response {
		return &Response{Status: 200, Body: map[string]any{"path": req.Path}}
	}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	go tr.Serve(ln)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	if string(body) != `{"path":"/health"}` {
		t.Errorf("body = %q", body)
	}
}

func TestTransport_MalformedGets400(t *testing.T) {
	tr := NewTransport(func(req *Request) *Response {
		t.Error("handler must not run for malformed requests")
		return nil
	}, nil)

	out := roundTrip(t, tr, "garbage\r\n\r\n")
	if !strings.HasPrefix(out, "HTTP/1.1 400 Bad Request\r\n") {
		t.Errorf("response: %q", out)
	}
	if !strings.Contains(out, `"error"`) {
		t.Errorf("400 body must carry a JSON error: %q", out)
	}
}
