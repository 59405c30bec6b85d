// ABOUTME: Raw byte-stream HTTP/1.1 transport: accept loop, manual request parsing, one-shot responses.
// ABOUTME: Every response closes the connection; there is no keep-alive and no chunked encoding.

package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// maxBodySize caps request bodies at 1MB.
const maxBodySize = 1 << 20

// Request is one parsed inbound request. Headers are collected but routing
// never depends on them; the body is whatever followed the first blank line.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// Header returns a header value by case-insensitive name.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// Response is the JSON payload and status the handler wants written back.
type Response struct {
	Status int
	Body   any
}

// Handler routes one request to one response. It must not retain req.
type Handler func(req *Request) *Response

// Transport owns the accept loop. Each connection carries exactly one
// request: parse, dispatch, respond, close.
type Transport struct {
	handler     Handler
	logger      *slog.Logger
	readTimeout time.Duration
}

// NewTransport creates a transport dispatching to handler.
func NewTransport(handler Handler, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		handler:     handler,
		logger:      logger.With("component", "transport"),
		readTimeout: 30 * time.Second,
	}
}

// Serve accepts connections until the listener is closed.
func (t *Transport) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go t.handleConn(conn)
	}
}

func (t *Transport) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(t.readTimeout))

	req, err := readRequest(bufio.NewReader(conn))
	if err != nil {
		t.logger.Debug("bad request", "remote", conn.RemoteAddr(), "error", err)
		writeResponse(conn, &Response{Status: 400, Body: map[string]any{"error": err.Error()}})
		return
	}

	resp := t.handler(req)
	if resp == nil {
		resp = &Response{Status: 404, Body: map[string]any{"error": "not found"}}
	}
	if err := writeResponse(conn, resp); err != nil {
		t.logger.Debug("write failed", "remote", conn.RemoteAddr(), "error", err)
	}
}

// readRequest parses one HTTP/1.1 request off the wire. The body is located
// by the first blank line; its length comes from Content-Length when the
// client sends one, otherwise the bytes that arrived alongside the headers
// are the body.
func readRequest(r *bufio.Reader) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("incomplete request line")
	}
	if !utf8.ValidString(line) {
		return nil, fmt.Errorf("request line is not valid UTF-8")
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line")
	}
	method, target, version := parts[0], parts[1], parts[2]
	if method == "" || target == "" || !strings.HasPrefix(version, "HTTP/") {
		return nil, fmt.Errorf("malformed request line")
	}

	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, fmt.Errorf("malformed request target")
	}

	headers := make(map[string]string)
	for {
		h, err := readLine(r)
		if err != nil {
			return nil, fmt.Errorf("incomplete headers")
		}
		if h == "" {
			break
		}
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line")
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	var body []byte
	if cl := headers["content-length"]; cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > maxBodySize {
			return nil, fmt.Errorf("invalid content length")
		}
		body = make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("body shorter than content length")
		}
	} else if n := r.Buffered(); n > 0 {
		// Without Content-Length, take only what is already buffered past
		// the blank line. Blocking for EOF here would stall standard
		// clients, which keep their half of the connection open after a GET.
		body = make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("failed to read body")
		}
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("body is not valid UTF-8")
	}

	return &Request{
		Method:  method,
		Path:    u.Path,
		Query:   u.Query(),
		Headers: headers,
		Body:    body,
	}, nil
}

// readLine reads one CRLF- (or bare LF-) terminated line.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	401: "Unauthorized",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
}

func writeResponse(w io.Writer, resp *Response) error {
	text, ok := statusText[resp.Status]
	if !ok {
		text = "Unknown"
	}
	body, err := marshalJSON(resp.Body)
	if err != nil {
		body = []byte(`{"error":"response serialization failed"}`)
		resp = &Response{Status: 500}
		text = statusText[500]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", resp.Status, text)
	b.WriteString("Content-Type: application/json\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Connection: close\r\n\r\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
