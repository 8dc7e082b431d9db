// Package textop holds the stateless text operations used by collaborative
// rooms: applying a single splice to a buffer and re-basing a position over
// operations the sender had not yet observed.
//
// Positions and lengths are counted in runes.
package textop

// Op is "at Pos remove Del runes, then insert Ins".
type Op struct {
	Pos int    `json:"pos"`
	Del int    `json:"del"`
	Ins string `json:"ins"`
}

// Clamp bounds pos into [0, length] and del into [0, length-pos].
func Clamp(length, pos, del int) (int, int) {
	if pos < 0 {
		pos = 0
	}
	if pos > length {
		pos = length
	}
	if del < 0 {
		del = 0
	}
	if del > length-pos {
		del = length - pos
	}
	return pos, del
}

// Apply splices ins into text. Out of range positions and lengths are
// clamped to the nearest valid edit, so Apply never fails.
func Apply(text string, pos, del int, ins string) string {
	r := []rune(text)
	pos, del = Clamp(len(r), pos, del)
	out := make([]rune, 0, len(r)-del+len([]rune(ins)))
	out = append(out, r[:pos]...)
	out = append(out, []rune(ins)...)
	out = append(out, r[pos+del:]...)
	return string(out)
}

// TransformPosition shifts pos by every prior op that landed strictly before
// it. A prior op at exactly pos does not shift it. The result is never negative.
func TransformPosition(pos int, prior []Op) int {
	for _, op := range prior {
		if op.Pos < pos {
			pos += RuneLen(op.Ins) - op.Del
		}
	}
	if pos < 0 {
		return 0
	}
	return pos
}

func RuneLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
