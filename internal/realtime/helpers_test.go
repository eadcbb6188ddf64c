package realtime

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"git.platform.alem.school/amibragim/order-tracker/internal/shared/contracts"
	"git.platform.alem.school/amibragim/order-tracker/internal/shared/logger"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewLoggerTo("realtime-test", io.Discard, "error")
}

// recordingSink keeps every message it was handed.
type recordingSink struct {
	mu   sync.Mutex
	msgs [][]byte
	fail error
}

func (s *recordingSink) Enqueue(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) events(t *testing.T) []contracts.WireEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.WireEvent, 0, len(s.msgs))
	for _, m := range s.msgs {
		var ev contracts.WireEvent
		require.NoError(t, json.Unmarshal(m, &ev))
		out = append(out, ev)
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}
