package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keepsake-labs/keepsake/internal/capture"
)

type fakeEmbedder struct {
	vector []float32
	model  string
	err    error
	gotIn  string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, string, error) {
	f.gotIn = text
	if f.err != nil {
		return nil, "", f.err
	}
	return f.vector, f.model, nil
}

type fakeEmbeddingStore struct {
	saved []capture.Embedding
	err   error
}

func (f *fakeEmbeddingStore) UpsertEmbedding(_ context.Context, emb capture.Embedding) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, emb)
	return nil
}

func (f *fakeEmbeddingStore) GetEmbeddings(_ context.Context, _ []string, _ string) (map[string][]float32, error) {
	return nil, nil
}

type fakeLexical struct {
	calls int
	errs  []error
}

func (f *fakeLexical) RebuildIndex(_ context.Context, _ string) error {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func testItem() capture.Item {
	return capture.Item{
		ID:               "item-1",
		Title:            "A title",
		Summary:          "A summary.",
		ProcessedContent: "Body text.",
	}
}

func TestStage_StoresEmbeddingAndRebuildsIndex(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2}, model: "text-embedding-3-small"}
	store := &fakeEmbeddingStore{}
	lexical := &fakeLexical{}
	stage := New(Config{ModelVersion: "v1"}, embedder, store, lexical, zap.NewNop())

	report, err := stage.Index(context.Background(), testItem())
	require.NoError(t, err)
	require.True(t, report.EmbeddingStored)
	require.NoError(t, report.EmbeddingError)
	require.Equal(t, "text-embedding-3-small", report.ModelName)

	require.Len(t, store.saved, 1)
	require.Equal(t, "item-1", store.saved[0].ItemID)
	require.Equal(t, "v1", store.saved[0].ModelVersion)
	require.Equal(t, 1, lexical.calls)
	require.True(t, strings.HasPrefix(embedder.gotIn, "A title"))
}

func TestStage_EmbeddingFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{err: errors.New("provider down")}
	store := &fakeEmbeddingStore{}
	lexical := &fakeLexical{}
	stage := New(Config{ModelVersion: "v1"}, embedder, store, lexical, zap.NewNop())

	report, err := stage.Index(context.Background(), testItem())
	require.NoError(t, err)
	require.False(t, report.EmbeddingStored)
	require.ErrorContains(t, report.EmbeddingError, "provider down")
	require.Equal(t, 1, lexical.calls, "lexical rebuild must still run")
}

func TestStage_LexicalRetriesOnceThenFails(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vector: []float32{0.1}, model: "m"}
	lexical := &fakeLexical{errs: []error{errors.New("deadlock"), errors.New("deadlock")}}
	stage := New(Config{ModelVersion: "v1"}, embedder, &fakeEmbeddingStore{}, lexical, zap.NewNop())

	_, err := stage.Index(context.Background(), testItem())
	require.ErrorContains(t, err, "rebuild lexical index")
	require.Equal(t, 2, lexical.calls)
}

func TestStage_LexicalRetrySucceeds(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vector: []float32{0.1}, model: "m"}
	lexical := &fakeLexical{errs: []error{errors.New("transient")}}
	stage := New(Config{ModelVersion: "v1"}, embedder, &fakeEmbeddingStore{}, lexical, zap.NewNop())

	_, err := stage.Index(context.Background(), testItem())
	require.NoError(t, err)
	require.Equal(t, 2, lexical.calls)
}

func TestStage_TruncatesLongContent(t *testing.T) {
	t.Parallel()

	embedder := &fakeEmbedder{vector: []float32{0.1}, model: "m"}
	stage := New(Config{ModelVersion: "v1"}, embedder, &fakeEmbeddingStore{}, &fakeLexical{}, zap.NewNop())

	item := testItem()
	item.ProcessedContent = strings.Repeat("x", EmbedMaxChars*2)

	_, err := stage.Index(context.Background(), item)
	require.NoError(t, err)
	require.Len(t, embedder.gotIn, EmbedMaxChars)
}
