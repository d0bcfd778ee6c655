// Package resolver turns informal symbol mentions (@John, #WO-12) into
// canonical {type}={id} references backed by the tenant's autocomplete
// lookup, and validates the result. An unresolvable mention is left
// untouched; a rewrite that fails validation is discarded wholesale.
package resolver

import (
	"context"
	"strings"
	"unicode"

	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
)

const maxMentionLen = 31

// EntityReference records one resolved mention.
type EntityReference struct {
	Symbol     rune   `json:"symbol"`
	RawMention string `json:"rawMention"`
	Type       string `json:"resolvedType"`
	ID         string `json:"resolvedId"`
}

// Resolution is the outcome of resolving a message text.
type Resolution struct {
	Original  string
	Rewritten string
	Entities  []EntityReference
}

// Changed reports whether any mention was rewritten.
func (r Resolution) Changed() bool { return r.Original != r.Rewritten }

type Resolver struct {
	lookup     domain.Lookup
	boundaries map[string]struct{}
}

func New(lookup domain.Lookup) *Resolver {
	return &Resolver{
		lookup:     lookup,
		boundaries: boundarySet(defaultBoundaries),
	}
}

// Resolve scans text for symbol mentions and substitutes each with the
// first autocomplete candidate's canonical reference. Lookup failures
// leave the mention as written. If the fully rewritten text fails
// validation the original is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, text string, chatCtx core.ChatContext) Resolution {
	log := core.WithChat(core.GetLogger(), chatCtx.UserID, chatCtx.TenantID)

	mentions := r.extractMentions(text)
	if len(mentions) == 0 {
		return Resolution{Original: text, Rewritten: text}
	}

	var entities []EntityReference
	rewritten := text
	// Substitute back to front so earlier offsets stay valid.
	for i := len(mentions) - 1; i >= 0; i-- {
		m := mentions[i]
		suggestions, err := r.lookup.Autocomplete(ctx, chatCtx, m.symbol, m.query)
		if err != nil {
			log.Debugw("Mention lookup failed, leaving as written", "mention", m.query, "error", err)
			continue
		}
		if len(suggestions) == 0 {
			log.Debugw("No candidates for mention, leaving as written", "mention", m.query)
			continue
		}
		entityType := domain.SymbolFor[m.symbol]
		canonical := string(entityType) + "=" + suggestions[0].ID
		rewritten = rewritten[:m.start] + canonical + rewritten[m.end:]
		entities = append(entities, EntityReference{
			Symbol:     m.symbol,
			RawMention: m.query,
			Type:       string(entityType),
			ID:         suggestions[0].ID,
		})
	}

	if rewritten == text {
		return Resolution{Original: text, Rewritten: text}
	}

	if v := Validate(rewritten); !v.Valid {
		log.Warnw("Rewritten text failed validation, reverting to original", "rewritten", rewritten)
		return Resolution{Original: text, Rewritten: text}
	}

	// entities were appended back to front; restore sentence order.
	for i, j := 0, len(entities)-1; i < j; i, j = i+1, j-1 {
		entities[i], entities[j] = entities[j], entities[i]
	}
	return Resolution{Original: text, Rewritten: rewritten, Entities: entities}
}

type mention struct {
	symbol rune
	query  string
	start  int // byte offset of the symbol
	end    int // byte offset just past the mention
}

// extractMentions is a hand-written tokenizer over the five mention
// classes. A mention starts at its symbol, accepts letters (Latin and
// Greek), digits, interior spaces, '-' and '.', and stops at a boundary
// word, another symbol, or length cap. Mentions inside quoted substrings
// are skipped; quoting is decided by the parity of unescaped quote
// characters before the symbol.
func (r *Resolver) extractMentions(text string) []mention {
	var mentions []mention
	runes := []rune(text)

	// Byte offset of each rune, plus the terminating offset.
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, ru := range runes {
		offsets[i] = pos
		pos += len(string(ru))
	}
	offsets[len(runes)] = pos

	doubleQuotes, singleQuotes := 0, 0
	for i := 0; i < len(runes); i++ {
		ru := runes[i]
		escaped := i > 0 && runes[i-1] == '\\'
		if ru == '"' && !escaped {
			doubleQuotes++
			continue
		}
		if ru == '\'' && !escaped {
			singleQuotes++
			continue
		}
		if _, ok := domain.SymbolFor[ru]; !ok {
			continue
		}
		if doubleQuotes%2 == 1 || singleQuotes%2 == 1 {
			continue
		}
		if i+1 >= len(runes) || !isMentionStart(runes[i+1]) {
			continue
		}

		// Consume the mention body.
		j := i + 1
		for j < len(runes) && j-i-1 < maxMentionLen && isMentionRune(runes[j]) {
			j++
		}
		query := trimAtBoundary(string(runes[i+1:j]), r.boundaries)
		query = strings.TrimRight(query, " -.")
		if query == "" {
			continue
		}

		endRune := i + 1 + len([]rune(query))
		mentions = append(mentions, mention{
			symbol: ru,
			query:  query,
			start:  offsets[i],
			end:    offsets[endRune],
		})
		i = endRune - 1
	}
	return mentions
}

func isMentionStart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isMentionRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '.'
}

// trimAtBoundary cuts the candidate at the first boundary word so a
// multi-word mention does not swallow the rest of the sentence. The
// result is always a prefix of candidate, keeping offsets valid.
func trimAtBoundary(candidate string, boundaries map[string]struct{}) string {
	runes := []rune(candidate)
	start := -1
	for idx := 0; idx <= len(runes); idx++ {
		atWordEnd := idx == len(runes) || runes[idx] == ' '
		if !atWordEnd {
			if start == -1 {
				start = idx
			}
			continue
		}
		if start != -1 {
			word := strings.ToLower(string(runes[start:idx]))
			if _, stop := boundaries[word]; stop {
				return strings.TrimRight(string(runes[:start]), " ")
			}
			start = -1
		}
	}
	return strings.TrimRight(candidate, " ")
}
