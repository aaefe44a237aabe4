package lexical

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_Search(t *testing.T) {
	ix := NewIndex()
	ix.Replace([]Document{
		{ChunkID: "c1", Title: "Evelyn Hamilton", Text: "Senior Python developer with Django and PostgreSQL experience."},
		{ChunkID: "c2", Title: "Jonathan Dyer", Text: "Project manager, Scrum master, stakeholder communication."},
		{ChunkID: "c3", Title: "Caitlin Cannon", Text: "Data engineer: Python, Spark, Airflow pipelines and Python tooling."},
	})

	hits := ix.Search("Who knows Python?", 10)
	require.Len(t, hits, 2)
	ids := []string{hits[0].ChunkID, hits[1].ChunkID}
	assert.ElementsMatch(t, []string{"c1", "c3"}, ids)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	assert.Empty(t, ix.Search("kubernetes", 10))
	assert.Len(t, ix.Search("python", 1), 1)
	assert.Nil(t, ix.Search("python", 0))
}

func TestIndex_SingleDocumentScoresPositive(t *testing.T) {
	ix := NewIndex()
	ix.Replace([]Document{{ChunkID: "only", Text: "Python developer"}})

	hits := ix.Search("python", 5)
	require.Len(t, hits, 1)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestIndex_TitleMatches(t *testing.T) {
	ix := NewIndex()
	ix.Replace([]Document{
		{ChunkID: "a", Title: "Jonathan Dyer", Text: "Education and certifications."},
		{ChunkID: "b", Title: "Evelyn Hamilton", Text: "Education and certifications."},
	})

	hits := ix.Search("Jonathan Dyer education", 5)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ChunkID)
}

func TestIndex_TiesOrderedByChunkID(t *testing.T) {
	ix := NewIndex()
	ix.Replace([]Document{
		{ChunkID: "z", Text: "golang"},
		{ChunkID: "a", Text: "golang"},
	})

	hits := ix.Search("golang", 5)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Equal(t, "z", hits[1].ChunkID)
}

func TestIndex_EmptyAndReplace(t *testing.T) {
	ix := NewIndex()
	assert.Empty(t, ix.Search("anything", 3))
	assert.Equal(t, 0, ix.Len())

	ix.Replace([]Document{{ChunkID: "x", Text: "rust"}})
	assert.Equal(t, 1, ix.Len())
	ix.Replace(nil)
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.Search("rust", 3))
}

func TestIndex_ConcurrentSearchAndReplace(t *testing.T) {
	ix := NewIndex()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			ix.Replace([]Document{{ChunkID: fmt.Sprintf("c%d", i), Text: "java spring"}})
		}(i)
		go func() {
			defer wg.Done()
			_ = ix.Search("java", 3)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ix.Len())
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"c", "go", "k8s", "résumé"}, Tokenize("C++, Go & K8s. Résumé!"))
	assert.Nil(t, Tokenize("  ,,, "))
	assert.Equal(t, []string{"python", "developer"}, FilterStopwords(Tokenize("Who is the Python developer")))
	assert.Nil(t, FilterStopwords([]string{"the", "a"}))
}
