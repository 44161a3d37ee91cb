package mcpserver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// readMessage accepts either Content-Length framed JSON-RPC or bare
// JSON lines. The second return value reports which framing the peer
// used, so replies can mirror it.
func readMessage(r *bufio.Reader) ([]byte, bool, error) {
	firstLine, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && firstLine == "" {
			return nil, false, io.EOF
		}
		return nil, false, err
	}

	if payload, ok, err := tryReadJSONLine(r, firstLine); ok || err != nil {
		return payload, ok, err
	}

	contentLength := -1
	line := firstLine
	for {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}

		if key, value, ok := strings.Cut(trimmed, ":"); ok && strings.EqualFold(key, "Content-Length") {
			parsed, parseErr := strconv.Atoi(strings.TrimSpace(value))
			if parseErr != nil {
				return nil, false, fmt.Errorf("invalid Content-Length: %w", parseErr)
			}
			contentLength = parsed
		}

		line, err = r.ReadString('\n')
		if err != nil {
			return nil, false, err
		}
	}

	if contentLength < 0 {
		return nil, false, fmt.Errorf("missing Content-Length header")
	}

	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, false, err
	}
	return payload, false, nil
}

// tryReadJSONLine treats a line starting with a JSON token as a bare
// JSON message, reading further lines until the buffer parses. A
// header-looking line falls through to framed parsing.
func tryReadJSONLine(r *bufio.Reader, firstLine string) ([]byte, bool, error) {
	trimmed := strings.TrimSpace(firstLine)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil, false, nil
	}

	buf := bytes.NewBufferString(firstLine)
	for {
		if candidate := bytes.TrimSpace(buf.Bytes()); json.Valid(candidate) {
			return candidate, true, nil
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, true, err
		}
		buf.WriteString(line)
	}
}

func writeFramedMessage(w *bufio.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeJSONLineMessage(w *bufio.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
