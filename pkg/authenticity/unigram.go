package authenticity

import (
	"context"
	"math"
	"strings"
)

// commonWords is a frequency-ranked list of common English words. The
// reference model assigns Zipf probabilities by rank.
var commonWords = strings.Fields(`
the of and to a in is that for it as was with be by on not he this are
or his from at which but have an they you were her she there been one
all we their has would when if so can will no more its who what into out
only up other some time could them these than two then also do my new
first may any like now our such over way most even made after well about
many how because through where people just those much before own must
between each being under both us very state see should make used work
same long while part great use another three however still world day
know life here take every good me few again important system different
number found small without often large point example given place since
during process form thus help change think information something year
against high case end called water light energy show result public
problem set general local within become although level group several
along fact according human among around based data study research order
able develop means social provide control power second rather others
therefore whole effect nature early itself including thing turn method
known present particular value across term need right available similar
possible specific certain area following best single simple common
structure function learning model students approach individual role
analysis significant various overall key ensure crucial furthermore
additionally moreover
`)

// UnigramScorer is a smoothed unigram language model. A fixed reference
// distribution is mixed with a cache of the words already seen in the
// window, so repetitive text with common vocabulary scores low.
type UnigramScorer struct {
	rank map[string]int
	// CacheWeight is the share of probability mass taken by the in-window
	// cache.
	CacheWeight float64
	// Vocabulary is the assumed size of the open vocabulary that shares the
	// mass not covered by the reference list.
	Vocabulary float64
}

func NewUnigramScorer() *UnigramScorer {
	rank := make(map[string]int, len(commonWords))
	for _, w := range commonWords {
		if _, ok := rank[w]; !ok {
			rank[w] = len(rank) + 1
		}
	}
	return &UnigramScorer{rank: rank, CacheWeight: 0.3, Vocabulary: 20000}
}

const (
	zipfScale      = 0.08
	referenceCover = 0.5
	cacheAddK      = 0.1
)

func (s *UnigramScorer) reference(word string) float64 {
	if r, ok := s.rank[word]; ok {
		return zipfScale / float64(r)
	}
	return (1 - referenceCover) / s.Vocabulary
}

// ScoreWindow returns exp of the mean negative log probability of tokens.
func (s *UnigramScorer) ScoreWindow(ctx context.Context, tokens []string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	counts := make(map[string]int, len(tokens))
	var nll float64
	for i, tok := range tokens {
		cache := (float64(counts[tok]) + cacheAddK) / (float64(i) + cacheAddK*s.Vocabulary)
		p := (1-s.CacheWeight)*s.reference(tok) + s.CacheWeight*cache
		nll -= math.Log(p)
		counts[tok]++
	}
	return math.Exp(nll / float64(len(tokens))), nil
}
