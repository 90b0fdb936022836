package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubCoalescesWithoutBlocking(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("r1")
	defer sub.Close()

	// Nobody is reading; publishers must not block.
	for i := 0; i < 100; i++ {
		h.Publish(Change{Kind: ReportChanged, PriceID: "r1"})
	}
	<-sub.ReportChanged()
	select {
	case <-sub.ReportChanged():
		t.Fatal("signals should coalesce into one")
	default:
	}

	select {
	case <-sub.CommentAdded():
		t.Fatal("report change must not signal the comment stream")
	default:
	}
}

func TestHubRoutesByReport(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	defer a.Close()
	defer b.Close()

	h.Publish(Change{Kind: CommentAdded, PriceID: "a"})
	select {
	case <-a.CommentAdded():
	default:
		t.Fatal("subscriber a missed its comment signal")
	}
	select {
	case <-b.CommentAdded():
		t.Fatal("subscriber b got a signal for report a")
	default:
	}
}

func TestSubscriptionCloseReleases(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("r1")
	assert.Equal(t, 1, h.Subscribers("r1"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers("r1"))
}

func TestChangePayloadRoundTrip(t *testing.T) {
	for _, c := range []Change{
		{Kind: ReportChanged, PriceID: "01J0"},
		{Kind: CommentAdded, PriceID: "01J1"},
	} {
		got, err := decodeChange(c.encode())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := decodeChange("garbage")
	assert.Error(t, err)
	_, err = decodeChange("x:01J0")
	assert.Error(t, err)
}
