// Package specindex retrieves protocol specification passages with a
// bag-of-words embedding and a flat inner-product search.
//
// An Index is not safe for concurrent use.
package specindex

import (
	"errors"
	"regexp"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cvalentine99/nfa-intent/internal/logging"
)

// Chunking windows, in runes.
const (
	ChunkSize    = 800
	ChunkOverlap = 100
)

// minNorm bounds the normalising divisor for chunks without terms.
const minNorm = 1e-9

// ErrNotBuilt is returned by Search before the first Build.
var ErrNotBuilt = errors.New("specindex: index has not been built")

var termPattern = regexp.MustCompile(`[a-z0-9]+`)

// Terms returns the lower-cased alphanumeric terms of text in order.
func Terms(text string) []string {
	return termPattern.FindAllString(strings.ToLower(text), -1)
}

// Split cuts text into windows of size runes, each starting
// size-overlap runes after the previous one. Empty text has no chunks.
func Split(text string, size, overlap int) []string {
	runes := []rune(text)
	step := max(size-overlap, 1)
	var chunks []string
	for i := 0; i < len(runes); i += step {
		chunks = append(chunks, string(runes[i:min(i+size, len(runes))]))
	}
	return chunks
}

// Hit is one retrieved chunk.
type Hit struct {
	// Doc is the position of the source document in AddDocument order
	Doc   int     `json:"doc"`
	Chunk string  `json:"chunk"`
	Score float64 `json:"score"`
}

// Index accumulates chunks and searches the snapshot taken by Build.
type Index struct {
	chunks []string
	docs   []int
	nDocs  int

	built  bool
	nBuilt int
	vocab  map[string]int
	emb    *mat.Dense // nBuilt x len(vocab), rows L2 normalised

	logger *logging.Logger
}

// New returns an empty index.
func New() *Index {
	return &Index{logger: logging.IndexLogger()}
}

// SetLogger replaces the index logger.
func (ix *Index) SetLogger(l *logging.Logger) {
	ix.logger = l
}

// AddDocument chunks text and appends the chunks. It returns the number
// of chunks added. Nothing is searchable until the next Build.
func (ix *Index) AddDocument(text string) int {
	chunks := Split(text, ChunkSize, ChunkOverlap)
	for range chunks {
		ix.docs = append(ix.docs, ix.nDocs)
	}
	ix.chunks = append(ix.chunks, chunks...)
	ix.nDocs++
	return len(chunks)
}

// Len returns the number of chunks added so far.
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Stale reports whether chunks were added since the last Build.
func (ix *Index) Stale() bool {
	return !ix.built || ix.nBuilt != len(ix.chunks)
}

// VocabularySize returns the number of terms captured by the last Build.
func (ix *Index) VocabularySize() int {
	return len(ix.vocab)
}

// Build derives the vocabulary from every chunk, in first-seen order,
// and embeds each chunk as its normalised term-count vector.
func (ix *Index) Build() {
	stop := logging.Timer(ix.logger, "index built", logging.OperationKey, "build")
	defer stop()

	vocab := make(map[string]int)
	counts := make([]map[int]float64, len(ix.chunks))
	for i, chunk := range ix.chunks {
		counts[i] = make(map[int]float64)
		for _, term := range Terms(chunk) {
			id, ok := vocab[term]
			if !ok {
				id = len(vocab)
				vocab[term] = id
			}
			counts[i][id]++
		}
	}

	ix.vocab = vocab
	ix.nBuilt = len(ix.chunks)
	ix.built = true
	ix.emb = nil
	if ix.nBuilt == 0 || len(vocab) == 0 {
		ix.logger.Warn("index has no terms", "chunks", ix.nBuilt)
		return
	}

	ix.emb = mat.NewDense(ix.nBuilt, len(vocab), nil)
	for i, c := range counts {
		row := make([]float64, len(vocab))
		for id, n := range c {
			row[id] = n
		}
		normalize(row)
		ix.emb.SetRow(i, row)
	}
	ix.logger.Debug("index embedded", logging.Shape(ix.nBuilt, len(vocab)))
}

// Search returns the k chunks most similar to query by cosine
// similarity, best first. Equal scores keep insertion order. Query
// terms unseen at Build contribute nothing.
func (ix *Index) Search(query string, k int) ([]Hit, error) {
	if !ix.built {
		return nil, ErrNotBuilt
	}
	k = min(k, ix.nBuilt)
	if k <= 0 {
		return nil, nil
	}

	scores := make([]float64, ix.nBuilt)
	if ix.emb != nil {
		q, dropped := ix.embedQuery(query)
		if dropped > 0 {
			ix.logger.Debug("query terms outside vocabulary", "dropped", dropped)
		}
		out := mat.NewVecDense(ix.nBuilt, scores)
		out.MulVec(ix.emb, mat.NewVecDense(len(ix.vocab), q))
	}

	order := make([]int, ix.nBuilt)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})

	hits := make([]Hit, k)
	for i, c := range order[:k] {
		hits[i] = Hit{Doc: ix.docs[c], Chunk: ix.chunks[c], Score: scores[c]}
	}
	return hits, nil
}

func (ix *Index) embedQuery(query string) ([]float64, int) {
	q := make([]float64, len(ix.vocab))
	dropped := 0
	for _, term := range Terms(query) {
		if id, ok := ix.vocab[term]; ok {
			q[id]++
		} else {
			dropped++
		}
	}
	normalize(q)
	return q, dropped
}

func normalize(v []float64) {
	floats.Scale(1/max(floats.Norm(v, 2), minNorm), v)
}
