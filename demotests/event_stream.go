package demotests

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/launchdarkly/loop-test-harness/framework"
)

// eventStream is a streaming handler for a raw test server. It writes whatever the test sends
// it to the current connection, flushing after every chunk, until the test interrupts it or the
// request context is cancelled.
type eventStream struct {
	logger    framework.Logger
	dataCh    chan streamChunk
	closeOnce sync.Once
}

type streamChunk struct {
	data       []byte
	delayAfter time.Duration
}

func newEventStream(logger framework.Logger) *eventStream {
	return &eventStream{
		dataCh: make(chan streamChunk, 1000),
		logger: framework.LoggerWithPrefix(logger, "[event stream] "),
	}
}

// Close ends the current connection, and any later ones immediately.
func (s *eventStream) Close() {
	s.closeOnce.Do(func() { close(s.dataCh) })
}

// Send sends a chunk of data on the stream and flushes the stream.
func (s *eventStream) Send(data string) {
	s.SendThenWait(data, 0)
}

// SendThenWait sends a chunk of data, flushes it, and then sleeps for an interval.
func (s *eventStream) SendThenWait(data string, delay time.Duration) {
	s.dataCh <- streamChunk{data: []byte(data), delayAfter: delay}
}

// SendSplit breaks a string into chunks of the specified byte length, and then sends and
// flushes each, with an optional delay in between.
func (s *eventStream) SendSplit(data string, chunkSize int, delayBetween time.Duration) {
	bytes := []byte(data)
	for pos := 0; pos < len(bytes); pos += chunkSize {
		max := pos + chunkSize
		if max > len(bytes) {
			max = len(bytes)
		}
		chunk := streamChunk{data: bytes[pos:max]}
		if max < len(bytes) {
			chunk.delayAfter = delayBetween
		}
		s.dataCh <- chunk
	}
}

// Interrupt closes the current connection.
func (s *eventStream) Interrupt() {
	s.logger.Printf("Deliberately breaking stream connection")
	s.dataCh <- streamChunk{data: nil}
}

func (s *eventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	closeNotifyCh := r.Context().Done()

	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	flusher.Flush()

Loop:
	for {
		select {
		case chunk, ok := <-s.dataCh:
			if !ok {
				break Loop
			}
			if chunk.data == nil { // indicates we want to break the connection
				break Loop
			}
			jsonStr, _ := json.Marshal(string(chunk.data))
			s.logger.Printf("<< sending: %s", jsonStr)
			_, _ = w.Write(chunk.data)
			flusher.Flush()
			if chunk.delayAfter > 0 {
				time.Sleep(chunk.delayAfter)
			}
		case <-closeNotifyCh:
			s.logger.Printf("Stream request was cancelled")
			break Loop
		}
	}
}
