package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/models"
)

// Server-sent event names
const (
	EventStatus = "status"
	EventState  = "state"
	EventResult = "result"
	EventError  = "error"
)

type streamEvent struct {
	name string
	data interface{}
}

// StatusEvent is the payload of a status event
type StatusEvent struct {
	Status models.Status `json:"status"`
}

// StateEvent is the payload of a state event
type StateEvent struct {
	State   models.WorkflowState   `json:"state"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorEvent is the payload of an error event
type ErrorEvent struct {
	Message string `json:"message"`
}

// handleWorkflowStream runs a workflow and streams its progress as
// server-sent events, ending with the result
func (s *Server) handleWorkflowStream(c echo.Context) error {
	wc, err := s.bindWorkflow(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	events := make(chan streamEvent, 32)
	emit := func(ev streamEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	wc.OnStatus = func(st models.Status) {
		emit(streamEvent{EventStatus, StatusEvent{Status: st}})
	}
	wc.OnStateChange = func(state models.WorkflowState, details map[string]interface{}) {
		emit(streamEvent{EventState, StateEvent{State: state, Details: details}})
	}

	type outcome struct {
		result *models.WorkflowResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.workflow.Run(ctx, wc)
		done <- outcome{result, err}
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				s.logger.Debug(ctx, "stream write failed", zap.Error(err))
				return nil
			}
		case out := <-done:
			for drained := false; !drained; {
				select {
				case ev := <-events:
					_ = writeEvent(w, ev)
				default:
					drained = true
				}
			}
			if out.err != nil {
				he, _ := submitError(out.err).(*echo.HTTPError)
				return writeEvent(w, streamEvent{EventError, ErrorEvent{Message: fmt.Sprint(he.Message)}})
			}
			return writeEvent(w, streamEvent{EventResult, out.result})
		case <-ctx.Done():
			return nil
		}
	}
}

func writeEvent(w *echo.Response, ev streamEvent) error {
	payload, err := json.Marshal(ev.data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.name, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}
