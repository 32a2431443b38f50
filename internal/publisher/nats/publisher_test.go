package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs    []*nats.Msg
	err     error
	drained bool
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublishUsesPrefixedSubject(t *testing.T) {
	t.Parallel()

	fc := &fakeConn{}
	p := &Publisher{conn: fc, prefix: "graphbuilder."}

	id, err := p.Publish(context.Background(), "documents", map[string]string{"status": "Completed"})
	require.NoError(t, err)
	require.Len(t, fc.msgs, 1)
	msg := fc.msgs[0]
	assert.Equal(t, "graphbuilder.documents", msg.Subject)
	assert.Equal(t, id, msg.Header.Get(nats.MsgIdHdr))

	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "Completed", body["status"])

	require.NoError(t, p.Close())
	assert.True(t, fc.drained)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	p := &Publisher{conn: &fakeConn{err: errors.New("no responders")}}
	_, err := p.Publish(context.Background(), "documents", "x")
	require.ErrorContains(t, err, "no responders")

	_, err = (&Publisher{conn: &fakeConn{}}).Publish(context.Background(), "", "x")
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&Publisher{conn: &fakeConn{}}).Publish(ctx, "documents", "x")
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix, topic, want string
	}{
		{"", "documents", "documents"},
		{"gb", "documents", "gb.documents"},
		{"gb.", "", "gb"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, (&Publisher{prefix: tt.prefix}).subject(tt.topic))
	}
}
