package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

func receive(t *testing.T, c <-chan types.Change) (types.Change, bool) {
	t.Helper()
	select {
	case ch, ok := <-c:
		return ch, ok
	case <-time.After(100 * time.Millisecond):
		return types.Change{}, false
	}
}

func TestResolver_Delivery(t *testing.T) {
	const base = "content://test.authority"
	tests := []struct {
		name     string
		observed string
		changed  string
		want     bool
	}{
		{"same uri", base + "/cheese", base + "/cheese", true},
		{"descendant change", base + "/cheese", base + "/cheese/5", true},
		{"ancestor change", base + "/cheese/5", base + "/cheese", true},
		{"root observer", base, base + "/cheese/5", true},
		{"root change", base + "/cheese", base, true},
		{"trailing slash", base + "/cheese/", base + "/cheese", true},
		{"query ignored", base + "/cheese?limit=2", base + "/cheese/1", true},
		{"sibling item", base + "/cheese/5", base + "/cheese/6", false},
		{"other path", base + "/cheese", base + "/plateau", false},
		{"segment prefix only", base + "/cheese", base + "/cheeses", false},
		{"other authority", base + "/cheese", "content://other/cheese", false},
		{"no authority", base + "/cheese", "cheese", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			defer r.Close()

			sub := r.Watch(context.Background(), tt.observed)
			r.NotifyChange(tt.changed, true)

			ch, ok := receive(t, sub.C)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, types.Change{URI: tt.changed, SyncToNetwork: true}, ch)
			}
		})
	}
}

func TestResolver_SubscriptionIDs(t *testing.T) {
	r := New()
	defer r.Close()

	a := r.Watch(context.Background(), "content://a/x")
	b := r.Watch(context.Background(), "content://a/x")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, uuid.Version(7), a.ID.Version())
	assert.Equal(t, "content://a/x", a.URI)
	assert.Equal(t, 2, r.Subscribers())
}

func TestResolver_SubscribeEndsWithContext(t *testing.T) {
	r := New()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := r.Subscribe(ctx, "content://a/x")
	cancel()

	require.Eventually(t, func() bool { return r.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-c
	assert.False(t, ok)
}

func TestResolver_Close(t *testing.T) {
	r := New(WithBuffer(1))
	sub := r.Watch(context.Background(), "content://a/x")
	r.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	r.NotifyChange("content://a/x", false)
}

func TestResolver_DropsWhenFull(t *testing.T) {
	r := New(WithBuffer(1))
	defer r.Close()

	sub := r.Watch(context.Background(), "content://a/x")
	r.NotifyChange("content://a/x", false)
	r.NotifyChange("content://a/x/1", false)

	ch, ok := receive(t, sub.C)
	require.True(t, ok)
	assert.Equal(t, "content://a/x", ch.URI)

	_, ok = receive(t, sub.C)
	assert.False(t, ok, "second change should have been dropped")
}
