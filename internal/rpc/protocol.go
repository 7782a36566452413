// Package rpc implements the line-oriented socket protocol between the
// comparison engine and the per-deployment worker daemons.
//
// A call is one TCP connection: the client writes "<command> <json>" and
// half-closes; the server answers with newline-delimited fragments and
// finishes with the "OK" sentinel. Fragments are either free-text log lines,
// a JSON object carrying the answer or an error, or a bare replay token
// instructing the client to run the named recovery command and re-issue the
// original call.
package rpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Commands understood by the worker daemon.
const (
	CmdPing           = "ping"
	CmdNavigate       = "navigate"
	CmdClick          = "click"
	CmdFindEquivalent = "find_equivalent"
	CmdDiscover       = "discover"
	CmdSignature      = "signature"
	CmdCapture        = "capture"
	CmdScreenshot     = "screenshot"
	CmdRelogin        = "relogin"
	CmdShutdown       = "shutdown"
)

// sentinel terminates every server response.
const sentinel = "OK"

// tokenRe matches replay tokens. Tokens are also command names, so the shape
// is deliberately narrow: no JSON, no spaces, nothing that could collide
// with a log fragment.
var tokenRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// maxLine bounds one response line. Captures embed base64 screenshots, so
// this is generous.
const maxLine = 32 << 20

// Origin tells where a driver lives relative to the engine.
type Origin int

// Driver origins.
const (
	OriginInProcess Origin = iota
	OriginDaemon
)

func (o Origin) String() string {
	if o == OriginDaemon {
		return "daemon"
	}
	return "in-process"
}

// envelope is the JSON line carrying either the answer or a protocol error.
type envelope struct {
	Answer json.RawMessage `json:"answer,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// writeRequest emits the single request line.
func writeRequest(w io.Writer, command string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", command, err)
	}
	if _, err := fmt.Fprintf(w, "%s %s\n", command, data); err != nil {
		return fmt.Errorf("write %s request: %w", command, err)
	}
	return nil
}

// newConnReader sizes the buffered reader used for request lines.
func newConnReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 64*1024)
}

// readRequest parses the request line into command and raw payload.
func readRequest(r *bufio.Reader) (string, json.RawMessage, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", nil, fmt.Errorf("read request: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	command, rest, found := strings.Cut(line, " ")
	if command == "" {
		return "", nil, errors.New("empty request line")
	}
	if !found || rest == "" {
		rest = "{}"
	}
	return command, json.RawMessage(rest), nil
}

// reply mirrors one server response as parsed by the client.
type reply struct {
	answer    json.RawMessage
	token     string
	fragments []string
	sawOK     bool
}

// readReply consumes response lines up to the sentinel. It tolerates any
// interleaving of fragments, at most one envelope, and at most one token.
func readReply(r io.Reader, knownToken func(string) bool) (reply, error) {
	var rep reply
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == sentinel:
			rep.sawOK = true
			return rep, nil
		case strings.HasPrefix(line, "{"):
			var env envelope
			if err := json.Unmarshal([]byte(line), &env); err != nil {
				return rep, fmt.Errorf("malformed envelope: %w", err)
			}
			if env.Error != "" {
				return rep, fmt.Errorf("remote: %s", env.Error)
			}
			rep.answer = env.Answer
		case rep.token == "" && tokenRe.MatchString(line) && knownToken != nil && knownToken(line):
			rep.token = line
		default:
			rep.fragments = append(rep.fragments, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return rep, fmt.Errorf("read reply: %w", err)
	}
	return rep, errors.New("connection closed before OK sentinel")
}
