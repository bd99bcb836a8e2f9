package daemon

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"codeberg.org/gruf/go-kv"
	"codeberg.org/gruf/go-logger/v2/log"

	"github.com/andreasbank/proxify/internal/pool"
	"github.com/andreasbank/proxify/internal/wire"
)

// connHandler runs the per-connection state machine described in
// spec.md §4.6: AwaitMagic, then repeatedly read-and-execute frames until
// END_SESSION, a parse error, EOF, a read error, or the shared context is
// cancelled.
type connHandler struct {
	ctx      context.Context
	conn     net.Conn
	pool     *pool.Pool
	sessions *sessionSet
}

func (h *connHandler) run() {
	defer h.releaseAllSessions()

	if err := wire.ReadMagic(h.conn); err != nil {
		log.WarnKVs(kv.Fields{{K: "remote", V: h.conn.RemoteAddr()}, {K: "error", V: err}, {K: "msg", V: "handshake failed"}}...)
		return
	}
	if err := wire.WriteMagicAck(h.conn); err != nil {
		log.ErrorKVs(kv.Fields{{K: "remote", V: h.conn.RemoteAddr()}, {K: "error", V: err}, {K: "msg", V: "write magic ack"}}...)
		return
	}

	buf := make([]byte, wire.MaxFrameSize)
	for {
		if h.ctx.Err() != nil {
			return
		}

		n, err := h.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.ErrorKVs(kv.Fields{{K: "remote", V: h.conn.RemoteAddr()}, {K: "error", V: err}, {K: "msg", V: "read error"}}...)
			}
			return
		}
		if n == 0 {
			log.DebugKVs(kv.Fields{{K: "remote", V: h.conn.RemoteAddr()}, {K: "msg", V: "graceful close"}}...)
			return
		}

		frame, err := wire.DecodeFrame(buf[:n])
		if err != nil {
			log.ErrorKVs(kv.Fields{{K: "remote", V: h.conn.RemoteAddr()}, {K: "error", V: err}, {K: "msg", V: "invalid frame"}}...)
			return
		}

		if frame.Command == wire.EndSession {
			h.endSession(frame.Session)
			return
		}

		if !h.handleRequest(frame) {
			return
		}
	}
}

func (h *connHandler) endSession(id uint8) {
	if entry, ok := h.sessions.release(id); ok {
		h.pool.Release(entry)
	}
}

func (h *connHandler) releaseAllSessions() {
	for _, entry := range h.sessions.releaseAll() {
		h.pool.Release(entry)
	}
}

// handleRequest executes a REQUEST_GET/REQUEST_POST frame and writes the
// response body back to the connection. It returns false if the
// connection should be closed (a write failed).
func (h *connHandler) handleRequest(frame wire.Frame) bool {
	entry, ok := h.sessions.get(frame.Session)
	if !ok {
		entry, ok = h.pool.Acquire()
		if !ok {
			log.DebugKVs(kv.Fields{{K: "session", V: frame.Session}, {K: "msg", V: "no ready proxy, replying empty"}}...)
			_, werr := h.conn.Write(nil)
			return werr == nil
		}
		h.sessions.bind(frame.Session, entry)
	}

	target, ok := frame.URL()
	if !ok {
		log.ErrorKVs(kv.Fields{{K: "session", V: frame.Session}, {K: "msg", V: "missing URL TLV"}}...)
		return true
	}

	headers := parseHeaders(frame.Headers())

	var body io.Reader
	method := http.MethodGet
	if frame.Command == wire.RequestPost {
		method = http.MethodPost
		if data, ok := frame.Data(); ok {
			body = bytes.NewReader(data)
		}
	}

	respBody, err := entry.Do(h.ctx, method, target, headers, body, requestTimeout)
	if err != nil {
		log.ErrorKVs(kv.Fields{
			{K: "session", V: frame.Session},
			{K: "entry", V: entry.ID()},
			{K: "url", V: target},
			{K: "error", V: err},
			{K: "msg", V: "upstream request failed"},
		}...)
		if _, ok := h.sessions.release(frame.Session); ok {
			h.pool.Release(entry)
		}
		_, werr := h.conn.Write(nil)
		return werr == nil
	}

	if _, err := h.conn.Write(respBody); err != nil {
		log.ErrorKVs(kv.Fields{{K: "session", V: frame.Session}, {K: "error", V: err}, {K: "msg", V: "write response"}}...)
		return false
	}

	return true
}

// parseHeaders turns raw "Name: value" HEADER TLV payloads into an
// http.Header.
func parseHeaders(raw [][]byte) http.Header {
	headers := make(http.Header, len(raw))
	for _, r := range raw {
		name, value, ok := strings.Cut(string(r), ":")
		if !ok {
			continue
		}
		headers.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return headers
}
