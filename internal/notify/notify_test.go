package notify

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/clipqueue/internal/model"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	sink.Notify(model.StatusChanged("job-1", model.StatusDone))
	sink.Notify(model.Message("job-1", "Saved (video)"))

	out := buf.String()
	assert.Contains(t, out, `"status":"done"`)
	assert.Contains(t, out, `"component":"events"`)
	assert.Contains(t, out, "Saved (video)")
}

func TestChanSink_DropsWhenFull(t *testing.T) {
	sink := NewChanSink(1)
	sink.Notify(model.Message("a", "first"))
	sink.Notify(model.Message("a", "second"))

	assert.Equal(t, 1, sink.Dropped())
	ev := <-sink.Events()
	assert.Equal(t, "first", ev.Text)

	sink.Close()
	sink.Notify(model.Message("a", "after close"))
	_, ok := <-sink.Events()
	assert.False(t, ok)
}

func TestFanout(t *testing.T) {
	var got []string
	a := Func(func(ev model.Event) { got = append(got, "a:"+ev.Text) })
	b := Func(func(ev model.Event) { got = append(got, "b:"+ev.Text) })

	Fanout{a, nil, b}.Notify(model.Message("x", "hi"))
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a:hi", "b:hi"}, got)
}
