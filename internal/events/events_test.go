package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/motorpool/internal/metrics"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestNATSPublisher_Publish(t *testing.T) {
	fc := &fakeConn{}
	m := metrics.New()
	p, err := NewNATSPublisher(NATSOpts{SubjectPrefix: "motorpool.requests.", Conn: fc, Metrics: m})
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	require.NoError(t, p.Publish(context.Background(), Event{Code: "SOL007", Status: "awaiting_authorization", Actor: "Ines", Vehicle: "VTR006"}))

	require.Len(t, fc.subjects, 1)
	assert.Equal(t, "motorpool.requests.awaiting_authorization", fc.subjects[0])

	var ev Event
	require.NoError(t, json.Unmarshal(fc.payloads[0], &ev))
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "SOL007", ev.Code)
	assert.Equal(t, "VTR006", ev.Vehicle)
	assert.True(t, ev.At.Equal(fixed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("ok")))
}

func TestNATSPublisher_PublishError(t *testing.T) {
	fc := &fakeConn{err: errors.New("no responders")}
	m := metrics.New()
	p, err := NewNATSPublisher(NATSOpts{SubjectPrefix: "mp", Conn: fc, Metrics: m})
	require.NoError(t, err)

	err = p.Publish(context.Background(), Event{Code: "SOL001", Status: "denied"})
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("error")))
}

func TestNATSPublisher_Close(t *testing.T) {
	fc := &fakeConn{}
	p, err := NewNATSPublisher(NATSOpts{SubjectPrefix: "mp", Conn: fc})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, fc.drained)
}

func TestNewNATSPublisher_Validation(t *testing.T) {
	_, err := NewNATSPublisher(NATSOpts{})
	assert.Error(t, err)
	_, err = NewNATSPublisher(NATSOpts{SubjectPrefix: "mp"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
