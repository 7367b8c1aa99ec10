package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskd/internal/store"
)

// outputResponse is the JSON response for GET /v1/tasks/{id}/output.
type outputResponse struct {
	Output string `json:"output"`
	Pos    int    `json:"pos"`
}

func (s *Server) handleReadOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pos, err := queryInt(r, "pos", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chunk, next, err := s.tasks.ReadOutput(r.Context(), id, int(pos))
	switch {
	case errors.Is(err, store.ErrInvalidOffset):
		s.writeError(w, http.StatusBadRequest, "pos must be at least 0")
		return
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	case err != nil:
		s.logger.Error("read task output", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read output")
		return
	}

	s.writeJSON(w, http.StatusOK, outputResponse{Output: chunk, Pos: next})
}

// handleStreamOutput streams a task's output as server-sent events. Each
// data event carries the next chunk of output and an id equal to the offset
// after it, so a client can resume with ?pos= or Last-Event-ID. A final
// "done" event names the terminal state.
func (s *Server) handleStreamOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pos, err := queryInt(r, "pos", 0)
	if err == nil {
		if last := r.Header.Get("Last-Event-ID"); last != "" {
			pos, err = strconv.ParseInt(last, 10, 64)
		}
	}
	if err != nil || pos < 0 {
		s.writeError(w, http.StatusBadRequest, "pos must be a non-negative integer")
		return
	}

	if _, err := s.tasks.FindByID(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("get task for output stream", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	// Subscribe before the first read so no append between the two is missed.
	// Chunks on the channel only signal that output grew; the store is read
	// for the actual bytes.
	ch, unsub := s.engine.Broker().Subscribe(id)
	defer unsub()
	outputStreamsOpen.Inc()
	defer outputStreamsOpen.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}
	flush()

	p := int(pos)
	// catchUp sends any output past p and reports whether the task is
	// still running.
	catchUp := func(ctx context.Context) (bool, error) {
		t, err := s.tasks.FindByID(ctx, id)
		if err != nil {
			return false, err
		}
		out := t.OutputText()
		if p < len(out) {
			if err := writeSSEChunk(w, len(out), out[p:]); err != nil {
				return false, err
			}
			p = len(out)
			flush()
		}
		if !t.Running() {
			_ = writeSSEEvent(w, "done", t.State())
			flush()
			return false, nil
		}
		return true, nil
	}

	running, err := catchUp(r.Context())
	for running && err == nil {
		select {
		case _, ok := <-ch:
			if !ok {
				// Topic closed; the final state may lag the close by a write.
				running, err = catchUp(r.Context())
				if running {
					_ = writeSSEEvent(w, "done", "closed")
					flush()
					return
				}
				continue
			}
			running, err = catchUp(r.Context())
		case <-r.Context().Done():
			return
		}
	}
	if err != nil && r.Context().Err() == nil {
		s.logger.Warn("output stream ended", "task_id", id, "error", err)
	}
}

// writeSSEChunk writes an output chunk as an SSE data event with the given
// id. Multi-line chunks are split so that each segment gets its own "data:"
// prefix, as the event-stream format requires.
func writeSSEChunk(w http.ResponseWriter, id int, chunk string) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
		return err
	}
	for seg := range strings.SplitSeq(chunk, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
