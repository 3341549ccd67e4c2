package describe_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starshop/starchat/internal/client"
	"github.com/starshop/starchat/internal/describe"
	"github.com/starshop/starchat/internal/metrics"
)

// fakeGenerator answers with fn, or blocks until the context ends when fn
// is nil.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []client.DescriptionRequest
	fn       func(client.DescriptionRequest) (string, error)
	started  chan struct{}
}

func newFakeGenerator(fn func(client.DescriptionRequest) (string, error)) *fakeGenerator {
	return &fakeGenerator{fn: fn, started: make(chan struct{}, 4)}
}

func (g *fakeGenerator) GenerateDescription(ctx context.Context, in client.DescriptionRequest) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, in)
	fn := g.fn
	g.mu.Unlock()
	g.started <- struct{}{}

	if fn == nil {
		<-ctx.Done()
		return "", fmt.Errorf("generate description: %w", ctx.Err())
	}
	return fn(in)
}

func (g *fakeGenerator) setFn(fn func(client.DescriptionRequest) (string, error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fn = fn
}

func (g *fakeGenerator) last() client.DescriptionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func answer(text string) func(client.DescriptionRequest) (string, error) {
	return func(client.DescriptionRequest) (string, error) { return text, nil }
}

func TestGenerateRejectsEmptyName(t *testing.T) {
	gen := newFakeGenerator(answer("x"))
	svc := describe.New(gen, nil, nil, nil)

	_, err := svc.Generate(context.Background(), describe.Request{ProductName: "   "})
	require.ErrorIs(t, err, describe.ErrEmptyProductName)
	assert.Equal(t, describe.MsgEmptyName, describe.FriendlyError(err))
	assert.Empty(t, gen.requests)
}

func TestGenerateFillsKeywords(t *testing.T) {
	tests := []struct {
		name string
		req  describe.Request
		want string
	}{
		{
			name: "extracted from name and catalog",
			req:  describe.Request{ProductName: "Bó hoa hồng đỏ Ecuador", CatalogName: "Hoa tươi"},
			want: "Hoa tươi, hoa, hồng",
		},
		{
			name: "explicit keywords win",
			req:  describe.Request{ProductName: "Bó hoa hồng", Keywords: " sinh nhật, tình yêu "},
			want: "sinh nhật, tình yêu",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGenerator(answer("Mô tả"))
			svc := describe.New(gen, nil, nil, nil)

			text, err := svc.Generate(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, "Mô tả", text)
			assert.Equal(t, tt.want, gen.last().Keywords)
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		product, catalog, want string
	}{
		{"Bó hoa hồng đỏ", "Hoa tươi", "Hoa tươi, hoa, hồng"},
		{"Áo đỏ", "", ""},
		{"Lẵng lan hồ điệp", "Bộ", "Lẵng, lan"},
		{"", "Quà tặng", "Quà tặng"},
	}
	for _, tt := range tests {
		if got := describe.ExtractKeywords(tt.product, tt.catalog); got != tt.want {
			t.Errorf("ExtractKeywords(%q, %q) = %q, want %q", tt.product, tt.catalog, got, tt.want)
		}
	}
}

func TestNewRequestSupersedesOld(t *testing.T) {
	gen := newFakeGenerator(nil)
	svc := describe.New(gen, nil, nil, nil)

	first := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), describe.Request{ProductName: "Hoa hồng"})
		first <- err
	}()
	<-gen.started

	gen.setFn(answer("Hoa lan đẹp"))
	text, err := svc.Generate(context.Background(), describe.Request{ProductName: "Hoa lan"})
	require.NoError(t, err)
	assert.Equal(t, "Hoa lan đẹp", text)

	select {
	case err := <-first:
		require.ErrorIs(t, err, describe.ErrSuperseded)
		assert.Empty(t, describe.FriendlyError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("first request never returned")
	}
}

func TestCancel(t *testing.T) {
	gen := newFakeGenerator(nil)
	svc := describe.New(gen, nil, nil, nil)
	svc.Cancel() // nothing in flight

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), describe.Request{ProductName: "Hoa hồng"})
		done <- err
	}()
	<-gen.started
	svc.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, describe.ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("request not cancelled")
	}
}

func TestCallerContextIsHonoured(t *testing.T) {
	gen := newFakeGenerator(nil)
	svc := describe.New(gen, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Generate(ctx, describe.Request{ProductName: "Hoa hồng"})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, describe.MsgOverloaded, describe.FriendlyError(err))
}

func TestFailuresAreRecorded(t *testing.T) {
	m := metrics.NewCollector()
	gen := newFakeGenerator(func(client.DescriptionRequest) (string, error) {
		return "", fmt.Errorf("generate description: %w", &client.APIError{Status: 429, Message: "AI quota exceeded"})
	})
	svc := describe.New(gen, nil, nil, m)

	_, err := svc.Generate(context.Background(), describe.Request{ProductName: "Hoa hồng"})
	require.Error(t, err)
	assert.Equal(t, describe.MsgQuota, describe.FriendlyError(err))

	snap := m.Snapshot()
	require.NotNil(t, snap.Describe)
	assert.Equal(t, int64(1), snap.Describe.Failures)
}

func TestFriendlyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout message", &client.APIError{Status: 504, Message: "Gateway Timeout"}, describe.MsgOverloaded},
		{"transport", errors.New("dial tcp: connection refused"), describe.MsgUnreachable},
		{"server", &client.APIError{Status: 500, Message: "boom"}, describe.MsgGeneric},
		{"no data", client.ErrNoData, describe.MsgGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe.FriendlyError(tt.err))
		})
	}
}

func TestGenerateSavesDraft(t *testing.T) {
	drafts := describe.NewDrafts(filepath.Join(t.TempDir(), "nested", "draft.json"))
	svc := describe.New(newFakeGenerator(answer("**Hoa hồng** tươi")), drafts, nil, nil)

	_, err := svc.Generate(context.Background(), describe.Request{ProductName: "Hoa hồng"})
	require.NoError(t, err)

	draft, ok, err := drafts.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hoa hồng", draft.Product)
	assert.Equal(t, "**Hoa hồng** tươi", draft.Content)
	assert.False(t, draft.SavedAt.IsZero())
}

func TestDrafts(t *testing.T) {
	drafts := describe.NewDrafts(filepath.Join(t.TempDir(), "draft.json"))

	_, ok, err := drafts.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	saved := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, drafts.Save(describe.Draft{Product: "Lan", Content: "v1", SavedAt: saved}))
	require.NoError(t, drafts.Save(describe.Draft{Product: "Lan", Content: "v2", SavedAt: saved}))

	draft, ok, err := drafts.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", draft.Content)
	assert.True(t, saved.Equal(draft.SavedAt))

	require.NoError(t, drafts.Clear())
	require.NoError(t, drafts.Clear())
	_, ok, err = drafts.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(drafts.Path(), []byte("{"), 0o600))
	_, _, err = drafts.Load()
	assert.Error(t, err)
}
