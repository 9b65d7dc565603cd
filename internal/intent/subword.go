package intent

import (
	"errors"
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// ErrEmptyText is returned when a row encodes to no content tokens.
var ErrEmptyText = errors.New("intent: empty text after tokenization")

// Encoded is one sequence ready for the encoder: fixed-length token ids
// with an attention mask marking the non-padding positions.
type Encoded struct {
	IDs  []int64 `json:"input_ids"`
	Mask []int64 `json:"attention_mask"`

	// ContentTokens counts the non-special tokens kept after truncation
	ContentTokens int `json:"-"`
}

// SubwordEncoder turns text into subword token ids.
type SubwordEncoder interface {
	Encode(text string) (Encoded, error)
}

// WordPiece encodes text with a pretrained tokenizer.json, truncating
// and padding every sequence to MaxLen.
type WordPiece struct {
	tk     *tokenizer.Tokenizer
	maxLen int
	cls    int64
	sep    int64
	pad    int64
}

// NewWordPiece loads a Hugging Face tokenizer.json file.
func NewWordPiece(path string, maxLen int) (*WordPiece, error) {
	if maxLen < 2 {
		return nil, fmt.Errorf("intent: max sequence length %d leaves no room for content", maxLen)
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("intent: load tokenizer %s: %w", path, err)
	}

	w := &WordPiece{tk: tk, maxLen: maxLen}
	for _, special := range []struct {
		token string
		dst   *int64
	}{
		{"[CLS]", &w.cls},
		{"[SEP]", &w.sep},
		{"[PAD]", &w.pad},
	} {
		id, ok := tk.TokenToId(special.token)
		if !ok {
			return nil, fmt.Errorf("intent: tokenizer %s has no %s token", path, special.token)
		}
		*special.dst = int64(id)
	}
	return w, nil
}

// MaxLen is the fixed sequence length.
func (w *WordPiece) MaxLen() int {
	return w.maxLen
}

// Encode wraps text in [CLS] ... [SEP], truncates to MaxLen keeping the
// closing [SEP], then pads with [PAD]. Empty text encodes to just the
// special tokens.
func (w *WordPiece) Encode(text string) (Encoded, error) {
	var content []int64
	if text != "" {
		en, err := w.tk.EncodeSingle(text, false)
		if err != nil {
			return Encoded{}, fmt.Errorf("intent: encode: %w", err)
		}
		content = make([]int64, len(en.Ids))
		for i, id := range en.Ids {
			content[i] = int64(id)
		}
	}
	return frame(content, w.cls, w.sep, w.pad, w.maxLen), nil
}

// frame adds the special tokens around content ids and pads to maxLen.
func frame(content []int64, cls, sep, pad int64, maxLen int) Encoded {
	if len(content) > maxLen-2 {
		content = content[:maxLen-2]
	}

	enc := Encoded{
		IDs:           make([]int64, maxLen),
		Mask:          make([]int64, maxLen),
		ContentTokens: len(content),
	}
	enc.IDs[0] = cls
	copy(enc.IDs[1:], content)
	enc.IDs[len(content)+1] = sep
	for i := 0; i < len(content)+2; i++ {
		enc.Mask[i] = 1
	}
	for i := len(content) + 2; i < maxLen; i++ {
		enc.IDs[i] = pad
	}
	return enc
}

// EncodeAll encodes texts in order. Every text must yield at least one
// content token; the first offending row is reported with ErrEmptyText.
func EncodeAll(enc SubwordEncoder, texts []string) ([]Encoded, error) {
	out := make([]Encoded, len(texts))
	for i, text := range texts {
		e, err := enc.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("intent: row %d: %w", i, err)
		}
		if e.ContentTokens == 0 {
			return nil, fmt.Errorf("%w: row %d", ErrEmptyText, i)
		}
		out[i] = e
	}
	return out, nil
}
