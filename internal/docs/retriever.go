// Package docs is a small keyword retriever over a yaml document fixture.
// It backs the question lane: found, ambiguous, weak, or no_match, with an
// honest clarification when topics collide.
package docs

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"wayfind/internal/logging"
	"wayfind/internal/types"
)

// Entry is one documentation chunk.
type Entry struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Body     string   `yaml:"body"`
	Keywords []string `yaml:"keywords"`
}

type fixtureFile struct {
	Docs []Entry `yaml:"docs"`
}

// FileRetriever implements types.Retriever over a static entry list.
type FileRetriever struct {
	entries []Entry
}

// Load reads a docs fixture from a yaml file.
func Load(path string) (*FileRetriever, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read docs fixture: %w", err)
	}
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse docs fixture: %w", err)
	}
	for i, e := range f.Docs {
		if e.ID == "" || e.Title == "" {
			return nil, fmt.Errorf("docs fixture entry %d missing id or title", i)
		}
	}
	return &FileRetriever{entries: f.Docs}, nil
}

// New creates a retriever from in-memory entries.
func New(entries []Entry) *FileRetriever {
	return &FileRetriever{entries: entries}
}

type scored struct {
	entry Entry
	score int
}

// Retrieve scores entries by token overlap with the query. Ties near the top
// come back as ambiguous with a clarification instead of a guess.
func (r *FileRetriever) Retrieve(_ context.Context, query string) (types.RetrievalResult, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 || len(r.entries) == 0 {
		return types.RetrievalResult{Status: types.RetrievalNoMatch}, nil
	}

	ranked := make([]scored, 0, len(r.entries))
	for _, e := range r.entries {
		if s := score(e, tokens); s > 0 {
			ranked = append(ranked, scored{entry: e, score: s})
		}
	}
	if len(ranked) == 0 {
		return types.RetrievalResult{Status: types.RetrievalNoMatch}, nil
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	top := ranked[0]
	logging.RoutingDebug("docs retrieval: query=%q top=%s score=%d hits=%d", query, top.entry.ID, top.score, len(ranked))

	if len(ranked) > 1 && ranked[1].score == top.score {
		titles := make([]string, 0, 3)
		for _, s := range ranked {
			if s.score < top.score || len(titles) == 3 {
				break
			}
			titles = append(titles, s.entry.Title)
		}
		return types.RetrievalResult{
			Status:        types.RetrievalAmbiguous,
			Results:       toResults(ranked),
			Clarification: fmt.Sprintf("That could be about %s. Which one?", strings.Join(titles, " or ")),
		}, nil
	}

	status := types.RetrievalFound
	if top.score < 2 {
		status = types.RetrievalWeak
	}
	return types.RetrievalResult{Status: status, Results: toResults(ranked)}, nil
}

func toResults(ranked []scored) []types.DocResult {
	out := make([]types.DocResult, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, types.DocResult{ID: s.entry.ID, Title: s.entry.Title, Snippet: snippet(s.entry.Body)})
	}
	return out
}

// score counts query tokens hitting keywords (weight 2) or title/body text.
func score(e Entry, tokens []string) int {
	kw := make(map[string]bool, len(e.Keywords))
	for _, k := range e.Keywords {
		kw[strings.ToLower(k)] = true
	}
	title := strings.ToLower(e.Title)
	body := strings.ToLower(e.Body)

	s := 0
	for _, t := range tokens {
		switch {
		case kw[t]:
			s += 2
		case strings.Contains(title, t):
			s += 2
		case strings.Contains(body, t):
			s++
		}
	}
	return s
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"do": true, "does": true, "how": true, "what": true, "why": true,
	"i": true, "my": true, "to": true, "of": true, "in": true, "on": true,
	"and": true, "or": true, "for": true, "it": true, "this": true,
}

func tokenize(q string) []string {
	fields := strings.Fields(strings.ToLower(q))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "?!.,;:\"'")
		if f == "" || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func snippet(body string) string {
	const max = 200
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	cut := body[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
