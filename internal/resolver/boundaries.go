package resolver

// Boundary words end a mention so it does not swallow the rest of the
// sentence. The sets are locale data, not grammar: extend them when a new
// language is enabled. English and Greek ship by default, matching the
// local NLP sidecar.
var defaultBoundaries = []string{
	// prepositions
	"for", "in", "with", "due", "at", "by", "on", "to", "about", "from",
	"για", "σε", "με", "μέχρι", "στις", "από",
	// temporal words
	"today", "tomorrow", "next",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"σήμερα", "αύριο", "επόμενη",
	"δευτέρα", "τρίτη", "τετάρτη", "πέμπτη", "παρασκευή", "σάββατο", "κυριακή",
}

func boundarySet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
