package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a hand-written stub satisfying Transport, faking the
// consumer-defined interface directly rather than generating a mock.
type fakeTransport struct {
	getMetadataCalls int
	getMetadataErrs  []error
	info             FileInfo

	listPages  map[string]struct {
		files []FileInfo
		next  string
	}
	listCalls int

	changePages  map[string]Page
	changesCalls int
}

func (f *fakeTransport) ListFolder(_ context.Context, _ string, pageToken string) ([]FileInfo, string, error) {
	f.listCalls++

	p := f.listPages[pageToken]

	return p.files, p.next, nil
}

func (f *fakeTransport) GetMetadata(_ context.Context, _ string) (FileInfo, error) {
	idx := f.getMetadataCalls
	f.getMetadataCalls++

	if idx < len(f.getMetadataErrs) && f.getMetadataErrs[idx] != nil {
		return FileInfo{}, f.getMetadataErrs[idx]
	}

	return f.info, nil
}

func (f *fakeTransport) GetContent(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeTransport) CreateFile(_ context.Context, info FileInfo, _ io.Reader) (FileInfo, error) {
	return info, nil
}

func (f *fakeTransport) UpdateFile(_ context.Context, id string, _ io.Reader) (FileInfo, error) {
	return FileInfo{ID: id}, nil
}

func (f *fakeTransport) DeleteFile(_ context.Context, _ string) error { return nil }

func (f *fakeTransport) ChangesStartPageToken(_ context.Context) (string, error) {
	return "start-token", nil
}

func (f *fakeTransport) ChangesList(_ context.Context, pageToken string) (Page, error) {
	f.changesCalls++
	return f.changePages[pageToken], nil
}

func newAdapter(t *fakeTransport) *Adapter {
	a := New(t, nil)
	a.sleep = func(time.Duration) {} // no real sleeping in tests

	return a
}

func TestAdapter_GetMetadata_RetriesOnceOnTransient(t *testing.T) {
	ft := &fakeTransport{
		getMetadataErrs: []error{fmt.Errorf("reset: %w", ErrTransient)},
		info:            FileInfo{ID: "abc"},
	}
	a := newAdapter(ft)

	info, err := a.GetMetadata(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", info.ID)
	assert.Equal(t, 2, ft.getMetadataCalls)
}

func TestAdapter_GetMetadata_PermanentErrorPropagatesImmediately(t *testing.T) {
	boom := errors.New("not found")
	ft := &fakeTransport{getMetadataErrs: []error{boom}}
	a := newAdapter(ft)

	_, err := a.GetMetadata(context.Background(), "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ft.getMetadataCalls)
}

func TestAdapter_GetMetadata_SecondTransientFailureAlsoPropagates(t *testing.T) {
	ft := &fakeTransport{
		getMetadataErrs: []error{
			fmt.Errorf("reset 1: %w", ErrTransient),
			fmt.Errorf("reset 2: %w", ErrTransient),
		},
	}
	a := newAdapter(ft)

	_, err := a.GetMetadata(context.Background(), "abc")
	require.Error(t, err)
	assert.Equal(t, 2, ft.getMetadataCalls)
}

func TestAdapter_ListAllChildren_PagesUntilNoNextToken(t *testing.T) {
	ft := &fakeTransport{
		listPages: map[string]struct {
			files []FileInfo
			next  string
		}{
			"": {files: []FileInfo{{ID: "1"}, {ID: "2"}}, next: "p2"},
			"p2": {files: []FileInfo{{ID: "3"}}, next: ""},
		},
	}
	a := newAdapter(ft)

	files, err := a.ListAllChildren(context.Background(), "root")
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Equal(t, 2, ft.listCalls)
}

func TestAdapter_PullChanges_CollectsAcrossPagesAndReturnsNewToken(t *testing.T) {
	ft := &fakeTransport{
		changePages: map[string]Page{
			"start": {
				Changes:       []Change{{FileID: "a"}},
				NextPageToken: "p2",
			},
			"p2": {
				Changes:       []Change{{FileID: "b"}},
				NewStartToken: "new-token",
			},
		},
	}
	a := newAdapter(ft)

	changes, newToken, err := a.PullChanges(context.Background(), "start")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "a", changes[0].FileID)
	assert.Equal(t, "b", changes[1].FileID)
	assert.Equal(t, "new-token", newToken)
}

func TestAdapter_ContextCancellationDuringRetryWait(t *testing.T) {
	ft := &fakeTransport{
		getMetadataErrs: []error{fmt.Errorf("reset: %w", ErrTransient)},
	}
	a := New(ft, nil)
	a.sleep = func(d time.Duration) { time.Sleep(d) } // real-ish, but we cancel first

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.GetMetadata(ctx, "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
