package spindle

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer serialises writes from executor goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(buf *syncBuffer) Logger {
	writer := logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
		line := append([]byte{}, e.Bytes()...)
		line = append(line, '}', '\n')
		buf.append(line)
		return nil
	})
	typed := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithTimeField(``)),
		stumpy.L.WithWriter(writer),
		stumpy.L.WithLevel(logiface.LevelDebug),
	)
	return typed.Logger()
}

func TestLogging_RegistryEventsAreStructured(t *testing.T) {
	var buf syncBuffer
	ctx := NewContext()
	e, err := NewExecutor(WithContext(ctx), WithLogger(newTestLogger(&buf)))
	require.NoError(t, err)
	defer func() {
		ctx.Shutdown("test done")
		_ = e.Close()
	}()

	n := NewNode(ctx, "logged-node")
	require.NoError(t, e.AddNode(n))
	e.RemoveNode(n)

	out := buf.String()
	assert.Contains(t, out, `"category":"registry"`)
	assert.Contains(t, out, `"node":"logged-node"`)
	assert.Contains(t, out, `"msg":"node added"`)
	assert.Contains(t, out, `"msg":"node removed"`)
	assert.Contains(t, out, `"executor":`)
}

func TestLogging_CancelAndCloseAreLogged(t *testing.T) {
	var buf syncBuffer
	ctx := NewContext()
	e, err := NewExecutor(WithContext(ctx), WithLogger(newTestLogger(&buf)))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Spin() }()
	waitForTrue(t, time.Second, e.IsSpinning, "executor never reached spinning")

	e.Cancel()
	require.NoError(t, <-done)
	require.NoError(t, e.Close())
	ctx.Shutdown("test done")

	out := buf.String()
	assert.Contains(t, out, `"msg":"cancel requested"`)
	assert.Contains(t, out, `"msg":"executor closed"`)
}

func TestLogging_NilLoggerIsSilentAndSafe(t *testing.T) {
	e, ctx := newTestExecutor(t, WithLogger(nil))
	n := NewNode(ctx, "node")
	require.NoError(t, e.AddNode(n))
	e.Cancel()

	var got bool
	sub := NewSubscription("topic", 1, func(Data) { got = true })
	n.AddWaitable(sub, nil)
	sub.Deliver("msg")
	require.NoError(t, e.SpinOnce(time.Second))
	assert.True(t, got)
}

func TestLogging_LinesAreValidJSONFragments(t *testing.T) {
	var buf syncBuffer
	ctx := NewContext()
	e, err := NewExecutor(WithContext(ctx), WithLogger(newTestLogger(&buf)))
	require.NoError(t, err)
	defer func() {
		ctx.Shutdown("test done")
		_ = e.Close()
	}()
	require.NoError(t, e.AddNode(NewNode(ctx, "n")))

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.True(t, strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}"),
			"not a JSON object: %s", line)
	}
}
