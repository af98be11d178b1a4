package adapters_test

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/wsengine/adapters"
	"github.com/momentics/wsengine/fake"
)

func TestLogObserverFormatsSortedFields(t *testing.T) {
	var buf bytes.Buffer
	o := adapters.NewLogObserver(log.New(&buf, "", 0))
	o.Observe("close.received", map[string]any{"reason": "bye", "code": 1000, "conn": 7})
	assert.Equal(t, "[ws] close.received code=1000 conn=7 reason=bye\n", buf.String())
}

func TestLogObserverSkip(t *testing.T) {
	var buf bytes.Buffer
	o := adapters.NewLogObserver(log.New(&buf, "", 0))
	o.Skip = func(event string) bool { return strings.HasPrefix(event, "frame.") }
	o.Observe("frame.received", nil)
	o.Observe("disconnect", nil)
	assert.Equal(t, "[ws] disconnect\n", buf.String())
}

func TestMetricsObserverCountsEvents(t *testing.T) {
	ctrl := adapters.NewControlAdapter(nil)
	o := adapters.MetricsObserver{Control: ctrl}
	o.Observe("message.received", nil)
	o.Observe("message.received", nil)
	o.Observe("disconnect", nil)

	stats := ctrl.Stats()
	assert.Equal(t, int64(2), stats["events.message.received"])
	assert.Equal(t, int64(1), stats["events.disconnect"])
}

func TestObserversCombine(t *testing.T) {
	assert.Nil(t, adapters.Observers(nil, nil))

	a := &fake.Observer{}
	assert.Same(t, a, adapters.Observers(nil, a))

	b := &fake.Observer{}
	multi := adapters.Observers(a, nil, b)
	multi.Observe("ping", map[string]any{"n": 1})
	assert.Equal(t, 1, a.Count("ping"))
	assert.Equal(t, 1, b.Count("ping"))
}
