package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/caffeineduck/capsule/hostfunc"
)

// Protocol constants for guests that talk to the host over stdio.
// Format: \x00CAPSULE:{json}\x00 on stderr, answered with one JSON line on
// stdin. Function names are "<scheme>.<fn>", e.g. "kv.get".
const (
	protocolPrefix = "\x00CAPSULE:"
	protocolSuffix = "\x00"
)

// protocolHandler intercepts stderr to handle host function calls.
// Regular stderr output passes through; protocol messages trigger host calls.
type protocolHandler struct {
	ctx         context.Context
	registries  map[string]*hostfunc.Registry
	stdinReader *io.PipeReader
	stdinWriter *io.PipeWriter
	stderr      io.Writer
	buf         bytes.Buffer
	mu          sync.Mutex
}

func newProtocolHandler(ctx context.Context, registries map[string]*hostfunc.Registry, stderr io.Writer) *protocolHandler {
	r, w := io.Pipe()
	return &protocolHandler{
		ctx:         ctx,
		registries:  registries,
		stdinReader: r,
		stdinWriter: w,
		stderr:      stderr,
	}
}

func (p *protocolHandler) stdin() io.Reader {
	return p.stdinReader
}

func (p *protocolHandler) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)

	for {
		content := p.buf.String()
		startIdx := strings.Index(content, protocolPrefix)
		if startIdx == -1 {
			p.stderr.Write([]byte(content))
			p.buf.Reset()
			break
		}

		p.stderr.Write([]byte(content[:startIdx]))

		endIdx := strings.Index(content[startIdx+len(protocolPrefix):], protocolSuffix)
		if endIdx == -1 {
			p.buf.Reset()
			p.buf.WriteString(content[startIdx:])
			break
		}

		jsonStr := content[startIdx+len(protocolPrefix) : startIdx+len(protocolPrefix)+endIdx]
		p.buf.Reset()
		p.buf.WriteString(content[startIdx+len(protocolPrefix)+endIdx+1:])

		var req hostfunc.CallRequest
		if err := json.Unmarshal([]byte(jsonStr), &req); err != nil {
			p.respond(hostfunc.CallResponse{Error: "invalid call format"})
			continue
		}

		p.respond(p.handleCall(req))
	}

	return len(data), nil
}

func (p *protocolHandler) respond(resp hostfunc.CallResponse) {
	data, _ := json.Marshal(resp)
	go p.stdinWriter.Write(append(data, '\n'))
}

func (p *protocolHandler) handleCall(req hostfunc.CallRequest) hostfunc.CallResponse {
	scheme, fn, ok := strings.Cut(req.Fn, ".")
	reg := p.registries[scheme]
	if !ok || reg == nil {
		return hostfunc.CallResponse{Error: "unknown function: " + req.Fn}
	}
	return hostfunc.Dispatch(p.ctx, reg, hostfunc.CallRequest{Fn: fn, Args: req.Args})
}

func (p *protocolHandler) Close() {
	p.stdinWriter.Close()
}
