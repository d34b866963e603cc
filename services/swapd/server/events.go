package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"swapcore/core/state"
	"swapcore/core/types"
	"swapcore/native/common"
)

const (
	wsWriteTimeout   = 10 * time.Second
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// EventLog pages through committed log entries.
type EventLog interface {
	Events(ctx context.Context, from uint64, limit int) ([]types.LogEntry, error)
}

// LedgerLog reads the audit log straight from the ledger.
type LedgerLog struct {
	State *state.Manager
}

// Events implements EventLog.
func (l LedgerLog) Events(ctx context.Context, from uint64, limit int) ([]types.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.State.Events(from, limit)
}

type eventsResponse struct {
	Events []types.LogEntry `json:"events"`
	Next   uint64           `json:"next"`
}

func parsePage(r *http.Request) (uint64, int, error) {
	query := r.URL.Query()
	var from uint64
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, common.ValidationError("from must be a sequence number")
		}
		from = parsed
	}
	limit := defaultPageLimit
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, 0, common.ValidationError("limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return from, limit, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	from, limit, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.events.Events(r.Context(), from, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := eventsResponse{Events: entries, Next: from}
	if len(entries) > 0 {
		resp.Next = entries[len(entries)-1].Sequence + 1
	}
	if resp.Events == nil {
		resp.Events = []types.LogEntry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	from, _, err := parsePage(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.StreamOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, from); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream failed",
				"request_id", RequestIDFromContext(r.Context()),
				"error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// streamEvents replays the ledger log from the cursor, then follows the bus.
// The subscription is opened before the replay so no entry falls between them.
func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, from uint64) error {
	updates, cancel := s.proto.Bus.Subscribe()
	defer cancel()
	ledger := LedgerLog{State: s.proto.State}

	next := from
	if next == 0 {
		next = 1
	}
	for {
		backlog, err := ledger.Events(ctx, next, defaultPageLimit)
		if err != nil {
			return err
		}
		for _, entry := range backlog {
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			next = entry.Sequence + 1
		}
		if len(backlog) < defaultPageLimit {
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			if entry.Sequence < next {
				continue
			}
			if entry.Sequence > next {
				// The subscriber missed entries; fill the hole from the log.
				missing, err := ledger.Events(ctx, next, int(entry.Sequence-next))
				if err != nil {
					return err
				}
				for _, m := range missing {
					if err := writeEntry(ctx, conn, m); err != nil {
						return err
					}
				}
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			next = entry.Sequence + 1
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry types.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
