package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Frame commands used by the client.
const (
	CommandConnect    = "CONNECT"
	CommandConnected  = "CONNECTED"
	CommandSubscribe  = "SUBSCRIBE"
	CommandMessage    = "MESSAGE"
	CommandReceipt    = "RECEIPT"
	CommandError      = "ERROR"
	CommandDisconnect = "DISCONNECT"
)

// ErrMalformedFrame is returned when bytes on the wire are not a STOMP frame.
var ErrMalformedFrame = errors.New("malformed stomp frame")

var (
	headerEscaper   = strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	headerUnescaper = strings.NewReplacer("\\\\", "\\", "\\r", "\r", "\\n", "\n", "\\c", ":")
)

// Frame is one STOMP frame. Repeated headers keep their first value.
type Frame struct {
	Command string
	Header  map[string]string
	Body    []byte
}

// NewFrame creates a frame from alternating header names and values.
func NewFrame(command string, body []byte, kv ...string) Frame {
	f := Frame{Command: command, Header: make(map[string]string, len(kv)/2), Body: body}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Header[kv[i]] = kv[i+1]
	}
	return f
}

// Get returns the value of header name, or "".
func (f Frame) Get(name string) string {
	return f.Header[name]
}

// Bytes encodes the frame. Headers are written in name order.
func (f Frame) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')

	names := make([]string, 0, len(f.Header))
	for name := range f.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	escape := f.Command != CommandConnect && f.Command != CommandConnected
	for _, name := range names {
		value := f.Header[name]
		if escape {
			name, value = headerEscaper.Replace(name), headerEscaper.Replace(value)
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// ParseFrames decodes every frame in data, skipping heart-beat newlines.
func ParseFrames(data []byte) ([]Frame, error) {
	var frames []Frame
	for {
		data = bytes.TrimLeft(data, "\r\n")
		if len(data) == 0 {
			return frames, nil
		}
		f, rest, err := parseFrame(data)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		data = rest
	}
}

func parseFrame(data []byte) (Frame, []byte, error) {
	command, data, ok := cutLine(data)
	if !ok || command == "" {
		return Frame{}, nil, fmt.Errorf("%w: missing command", ErrMalformedFrame)
	}

	f := Frame{Command: command, Header: make(map[string]string)}
	unescape := command != CommandConnect && command != CommandConnected

	for {
		var line string
		line, data, ok = cutLine(data)
		if !ok {
			return Frame{}, nil, fmt.Errorf("%w: unterminated headers", ErrMalformedFrame)
		}
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return Frame{}, nil, fmt.Errorf("%w: header %q", ErrMalformedFrame, line)
		}
		if unescape {
			name, value = headerUnescaper.Replace(name), headerUnescaper.Replace(value)
		}
		if _, dup := f.Header[name]; !dup {
			f.Header[name] = value
		}
	}

	if cl, ok := f.Header["content-length"]; ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n >= len(data) || data[n] != 0 {
			return Frame{}, nil, fmt.Errorf("%w: content-length %q", ErrMalformedFrame, cl)
		}
		f.Body = data[:n]
		return f, data[n+1:], nil
	}

	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return Frame{}, nil, fmt.Errorf("%w: missing NUL terminator", ErrMalformedFrame)
	}
	f.Body = data[:end]
	return f, data[end+1:], nil
}

func cutLine(data []byte) (string, []byte, bool) {
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", data, false
	}
	return string(bytes.TrimSuffix(data[:i], []byte("\r"))), data[i+1:], true
}
