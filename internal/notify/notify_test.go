package notify

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_Since(t *testing.T) {
	f := NewFeed(8)

	f.Notify(context.Background(), Notice{Level: LevelSuccess, Message: "appointment 42 completed"})
	f.Notify(context.Background(), Notice{Level: LevelInfo, Message: "second"})

	all := f.Since(0, nil)
	require.Len(t, all, 2)
	assert.Equal(t, "appointment 42 completed", all[0].Message)
	assert.Equal(t, uint64(1), all[0].Seq)
	assert.NotEmpty(t, all[0].ID)
	assert.False(t, all[0].CreatedAt.IsZero())

	rest := f.Since(1, nil)
	require.Len(t, rest, 1)
	assert.Equal(t, "second", rest[0].Message)

	assert.Empty(t, f.Since(2, nil))
}

func TestFeed_Wraps(t *testing.T) {
	f := NewFeed(3)

	for i := 1; i <= 5; i++ {
		f.Notify(context.Background(), Notice{Message: strconv.Itoa(i)})
	}

	got := f.Since(0, nil)
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Message)
	assert.Equal(t, "5", got[2].Message)
}

func TestNewFeed_DefaultCapacity(t *testing.T) {
	f := NewFeed(0)
	assert.Len(t, f.buf, DefaultCapacity)
}

func TestFeed_SinceVisible(t *testing.T) {
	f := NewFeed(8)
	ctx := context.Background()

	f.Notify(ctx, Notice{Message: "appointment 42 completed", Owner: "7"})
	f.Notify(ctx, Notice{Message: "appointment 43 completed", Owner: "8"})
	f.Notify(ctx, Notice{Message: "sale 9 completed"})

	tests := []struct {
		name    string
		visible func(Notice) bool
		want    []string
	}{
		{name: "staff", want: []string{"appointment 42 completed", "appointment 43 completed", "sale 9 completed"}},
		{name: "owner", visible: OwnedBy("7"), want: []string{"appointment 42 completed"}},
		{name: "no subject", visible: OwnedBy(""), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, n := range f.Since(0, tt.visible) {
				got = append(got, n.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
