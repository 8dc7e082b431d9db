package delta

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete length in runes
	Text  string         `json:"text,omitempty"`  // insert text
	Attrs map[string]any `json:"attrs,omitempty"`
}

type Delta []Op

// Splice expresses "at pos remove del runes, then insert ins" as a delta.
// Zero-length components are omitted; the caller is expected to pass
// already clamped values.
func Splice(pos, del int, ins string) Delta {
	d := make(Delta, 0, 3)
	if pos > 0 {
		d = append(d, Op{Kind: KindRetain, Count: pos})
	}
	if del > 0 {
		d = append(d, Op{Kind: KindDelete, Count: del})
	}
	if ins != "" {
		d = append(d, Op{Kind: KindInsert, Text: ins})
	}
	return d
}

// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]
