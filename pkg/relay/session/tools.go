package session

import (
	"context"
	"sync"

	"github.com/vokal-ai/livebridge/pkg/relay/protocol"
	"github.com/vokal-ai/livebridge/pkg/relay/tools"
	"github.com/vokal-ai/livebridge/pkg/relay/upstream"
)

// handleToolCalls executes one requested batch. The batch is partitioned by
// the per-tool synchronicity classification:
//
//   - async tools run concurrently off the loop; their results return as one
//     batch with the interrupt directive, so the model folds them in even
//     mid-speech.
//   - sync instant tools run inline and answer as one batch with default
//     scheduling.
//   - sync long-running tools each get their own goroutine and answer
//     individually as they finish, still with default scheduling.
//
// Tool failures are ordinary results: the model always hears back for every
// call id it issued.
func (s *Session) handleToolCalls(ev upstream.ToolCallEvent) {
	if s.executor == nil || len(ev.Calls) == 0 {
		return
	}

	infos := make([]protocol.ToolCallInfo, 0, len(ev.Calls))
	for _, c := range ev.Calls {
		infos = append(infos, protocol.ToolCallInfo{ID: c.ID, Name: c.Name, Args: c.Args})
	}
	s.send(protocol.ServerToolCall{Type: "tool_call", Calls: infos})

	var async, instant, longRunning []upstream.ToolCallRequest
	for _, c := range ev.Calls {
		switch {
		case s.cfg.IsAsyncTool(c.Name):
			async = append(async, c)
		case s.executor.IsLongRunning(c.Name):
			longRunning = append(longRunning, c)
		default:
			instant = append(instant, c)
		}
	}

	if len(instant) > 0 {
		results := make([]upstream.ToolResult, 0, len(instant))
		for _, c := range instant {
			response := s.executor.Execute(s.ctx, c.Name, c.Args, s.progressFunc(c))
			results = append(results, upstream.ToolResult{ID: c.ID, Name: c.Name, Response: response})
		}
		s.deliverResults("sync", results)
	}

	for _, c := range longRunning {
		go s.runLongRunningTool(c)
	}

	if len(async) > 0 {
		go s.runAsyncBatch(async)
	}
}

// runLongRunningTool executes one sync long-running call off the loop and
// posts its single result back for delivery.
func (s *Session) runLongRunningTool(call upstream.ToolCallRequest) {
	response := s.executor.Execute(context.Background(), call.Name, call.Args, s.progressFunc(call))
	s.post(func() {
		s.deliverResults("sync", []upstream.ToolResult{{ID: call.ID, Name: call.Name, Response: response}})
	})
}

// runAsyncBatch executes every async call of the batch concurrently, then
// posts the complete batch back. Each result carries the interrupt directive.
func (s *Session) runAsyncBatch(calls []upstream.ToolCallRequest) {
	results := make([]upstream.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call upstream.ToolCallRequest) {
			defer wg.Done()
			response := s.executor.Execute(context.Background(), call.Name, call.Args, s.progressFunc(call))
			results[i] = upstream.ToolResult{ID: call.ID, Name: call.Name, Response: response, Interrupt: true}
		}(i, call)
	}
	wg.Wait()
	s.post(func() {
		s.deliverResults("async", results)
	})
}

// deliverResults sends a finished result set upstream and mirrors it to the
// client. Runs on the dispatch loop. Results for calls the upstream has since
// cancelled are dropped.
func (s *Session) deliverResults(mode string, results []upstream.ToolResult) {
	kept := results[:0]
	for _, r := range results {
		if s.cancelled[r.ID] {
			delete(s.cancelled, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return
	}

	if s.adapter != nil {
		if err := s.adapter.SendToolResults(kept); err != nil {
			s.logger.Warn("tool result delivery failed", "mode", mode, "error", err)
		}
	} else {
		s.logger.Warn("tool results finished with no upstream to deliver to", "mode", mode, "count", len(kept))
	}

	infos := make([]protocol.ToolResultInfo, 0, len(kept))
	for _, r := range kept {
		infos = append(infos, protocol.ToolResultInfo{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	s.send(protocol.ServerToolResults{Type: "tool_results", Mode: mode, Results: infos})
}

// progressFunc adapts executor progress callbacks into per-family client
// frames, e.g. canvas progress arrives as canvas_progress. Safe to call from
// tool goroutines.
func (s *Session) progressFunc(call upstream.ToolCallRequest) tools.ProgressFunc {
	family := s.executor.Family(call.Name)
	return func(phase, message string) {
		s.send(protocol.ServerToolProgress{
			Type:       family + "_progress",
			ToolCallID: call.ID,
			Status:     phase,
			Message:    message,
		})
	}
}
