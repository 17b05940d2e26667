package loops

// Kind identifies one of the fixed processing loops.
type Kind string

const (
	KindPrimary   Kind = "primary"
	KindSecondary Kind = "secondary"
	KindThird     Kind = "third"
	KindForth     Kind = "forth"
	KindExternal  Kind = "external"
)

// Kinds lists every loop in a stable order, used to register the sandbox
// barrier.
func Kinds() []Kind {
	return []Kind{KindPrimary, KindSecondary, KindThird, KindForth, KindExternal}
}

// KindIDs returns the loop identifiers as strings for the sandbox controller.
func KindIDs() []string {
	kinds := Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func (k Kind) valid() bool {
	switch k {
	case KindPrimary, KindSecondary, KindThird, KindForth, KindExternal:
		return true
	}
	return false
}
