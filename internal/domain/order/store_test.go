package order

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prison3/prison/internal/infrastructure/storage/memory"
)

// failingKV fails every call
type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk unavailable")
}
func (failingKV) Put(context.Context, string, string) error { return errors.New("disk unavailable") }
func (failingKV) Delete(context.Context, ...string) error   { return errors.New("disk unavailable") }

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "blank", raw: "  ", want: nil},
		{name: "single", raw: "com.a", want: []string{"com.a"}},
		{name: "ordered", raw: "com.b,com.a", want: []string{"com.b", "com.a"}},
		{name: "empty tokens", raw: ",com.a,,com.b,", want: []string{"com.a", "com.b"}},
		{name: "spaces", raw: " com.a , com.b", want: []string{"com.a", "com.b"}},
		{name: "repeats keep first", raw: "com.a,com.b,com.a", want: []string{"com.a", "com.b"}},
		{name: "only separators", raw: ",,,", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw))
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "AppList0", AppListKey(0))
	assert.Equal(t, "Remark17", RemarkKey(17))
}

func TestAppendIsSetLike(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	s := NewStore(kv, nil)

	require.NoError(t, s.Append(ctx, 0, "com.a"))
	require.NoError(t, s.Append(ctx, 0, "com.b"))
	require.NoError(t, s.Append(ctx, 0, "com.a"))
	require.NoError(t, s.Append(ctx, 0, " "))

	assert.Equal(t, []string{"com.a", "com.b"}, s.Order(ctx, 0))
	raw, _, _ := kv.Get(ctx, "AppList0")
	assert.Equal(t, "com.a,com.b", raw)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	s := NewStore(kv, nil)
	require.NoError(t, s.SetOrder(ctx, 1, []string{"com.a", "com.b", "com.c"}))

	require.NoError(t, s.Remove(ctx, 1, "com.b"))
	assert.Equal(t, []string{"com.a", "com.c"}, s.Order(ctx, 1))

	// absent id: no error, no change
	require.NoError(t, s.Remove(ctx, 1, "com.zzz"))
	assert.Equal(t, []string{"com.a", "com.c"}, s.Order(ctx, 1))

	// profile without a list
	require.NoError(t, s.Remove(ctx, 9, "com.a"))
	_, ok, _ := kv.Get(ctx, "AppList9")
	assert.False(t, ok)
}

func TestSetOrderOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.New(), nil)

	require.NoError(t, s.SetOrder(ctx, 0, []string{"com.a", "com.b"}))
	require.NoError(t, s.SetOrder(ctx, 0, []string{"com.c", "com.a"}))
	assert.Equal(t, []string{"com.c", "com.a"}, s.Order(ctx, 0))

	require.NoError(t, s.SetOrder(ctx, 0, nil))
	assert.Empty(t, s.Order(ctx, 0))
}

func TestLabels(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memory.New(), nil)

	assert.Equal(t, "User 2", s.Label(ctx, 2))

	require.NoError(t, s.SetLabel(ctx, 2, "  Work  "))
	assert.Equal(t, "Work", s.Label(ctx, 2))

	require.NoError(t, s.SetLabel(ctx, 2, ""))
	assert.Equal(t, "User 2", s.Label(ctx, 2))
}

func TestForget(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	s := NewStore(kv, nil)
	require.NoError(t, s.SetOrder(ctx, 3, []string{"com.a"}))
	require.NoError(t, s.SetLabel(ctx, 3, "Games"))
	require.NoError(t, s.SetLabel(ctx, 2, "Work"))

	require.NoError(t, s.Forget(ctx, 3))

	assert.Nil(t, s.Order(ctx, 3))
	assert.Equal(t, "User 3", s.Label(ctx, 3))
	assert.Equal(t, "Work", s.Label(ctx, 2))
	assert.Equal(t, 1, kv.Len())
}

func TestReadsFailOpen(t *testing.T) {
	ctx := context.Background()
	s := NewStore(failingKV{}, nil)

	assert.Nil(t, s.Order(ctx, 0))
	assert.Equal(t, "User 0", s.Label(ctx, 0))

	assert.Error(t, s.Append(ctx, 0, "com.a"))
	assert.Error(t, s.Remove(ctx, 0, "com.a"))
	assert.Error(t, s.SetOrder(ctx, 0, []string{"com.a"}))
	assert.Error(t, s.SetLabel(ctx, 0, "x"))
	assert.Error(t, s.Forget(ctx, 0))
}
