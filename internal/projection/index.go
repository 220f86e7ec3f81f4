package projection

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/form"
	"github.com/roach88/evsync/internal/val"
)

// BuildIndex folds doc and summarizes it for lists and search.
func BuildIndex(doc event.Document, cfg form.EventConfig) (event.Index, error) {
	st, err := Fold(doc)
	if err != nil {
		return event.Index{}, err
	}
	return IndexState(st, cfg), nil
}

// IndexState summarizes an already folded state.
func IndexState(st State, cfg form.EventConfig) event.Index {
	idx := event.Index{
		ID:        st.EventID,
		Type:      st.Type,
		Status:    st.Status,
		Flags:     append([]event.Flag{}, st.Flags...),
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}

	var title []string
	for _, id := range cfg.Title {
		if s := text(st.Declaration, id); s != "" {
			title = append(title, s)
		}
	}
	idx.Title = strings.Join(title, " ")
	idx.DateOfEvent = text(st.Declaration, cfg.DateOfEvent)

	for _, id := range cfg.SearchFields() {
		s := text(st.Declaration, id)
		if s == "" {
			continue
		}
		if idx.Search == nil {
			idx.Search = make(map[string]string)
		}
		idx.Search[id] = FoldSearch(s)
	}
	return idx
}

// text renders a scalar declaration value for display.
func text(decl val.Object, id string) string {
	if id == "" {
		return ""
	}
	v, ok := decl.Get(id)
	if !ok {
		return ""
	}
	switch x := v.(type) {
	case val.String:
		return string(x)
	case val.Int, val.Bool:
		b, _ := val.Marshal(x)
		return string(b)
	default:
		return ""
	}
}

// FoldSearch normalizes s for accent- and case-insensitive matching:
// decompose, drop combining marks, recompose, case fold.
func FoldSearch(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(strings.TrimSpace(out))
}

// MatchSearch reports whether every query term is a substring of the
// corresponding folded search field.
func MatchSearch(idx event.Index, query map[string]string) bool {
	for field, want := range query {
		got, ok := idx.Search[field]
		if !ok || !strings.Contains(got, FoldSearch(want)) {
			return false
		}
	}
	return true
}
