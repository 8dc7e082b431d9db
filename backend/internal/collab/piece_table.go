package collab

import (
	"errors"
	"strings"

	"collabdoc/backend/internal/ot/delta"
)

var ErrDeltaOutOfRange = errors.New("delta exceeds buffer length")

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

const compactThreshold = 256

type piece struct {
	buf    bufferKind
	offset int
	length int
}

type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
	length   int
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r, length: len(r)}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int { return pt.length }

func (pt *PieceTable) String() string {
	var b strings.Builder
	b.Grow(pt.length)
	for _, p := range pt.pieces {
		b.WriteString(string(pt.source(p)[p.offset : p.offset+p.length]))
	}
	return b.String()
}

func (pt *PieceTable) source(p piece) []rune {
	if p.buf == bufAdd {
		return pt.add
	}
	return pt.original
}

// Apply walks the delta left to right: retain moves the cursor, insert
// splits the piece under the cursor, delete trims or drops pieces. The delta
// is validated against the current length first, so a rejected delta leaves
// the table untouched.
func (pt *PieceTable) Apply(d delta.Delta) error {
	if err := pt.validate(d); err != nil {
		return err
	}
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			pos += pt.insert(pos, op.Text)
		case delta.KindDelete:
			pt.delete(pos, op.Count)
		}
	}
	if len(pt.pieces) > compactThreshold {
		pt.compact()
	}
	return nil
}

func (pt *PieceTable) validate(d delta.Delta) error {
	pos, length := 0, pt.length
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			n := len([]rune(op.Text))
			pos += n
			length += n
		case delta.KindDelete:
			length -= op.Count
		}
		if op.Count < 0 || pos > length {
			return ErrDeltaOutOfRange
		}
	}
	return nil
}

func (pt *PieceTable) insert(pos int, text string) int {
	r := []rune(text)
	if len(r) == 0 {
		return 0
	}
	added := piece{buf: bufAdd, offset: len(pt.add), length: len(r)}
	pt.add = append(pt.add, r...)
	pt.length += len(r)

	idx, offset := pt.locate(pos)
	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, added)
		return len(r)
	}
	head, tail := pt.pieces[idx].split(offset)
	pt.replace(idx, head, added, tail)
	return len(r)
}

func (pt *PieceTable) delete(pos, count int) {
	idx, offset := pt.locate(pos)
	for count > 0 && idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		take := min(count, cur.length-offset)

		head, rest := cur.split(offset)
		_, tail := rest.split(take)
		pt.replace(idx, head, tail)
		if head.length > 0 {
			idx++
		}
		offset = 0
		count -= take
		pt.length -= take
	}
}

// split cuts p at n runes; either half may be empty.
func (p piece) split(n int) (piece, piece) {
	return piece{buf: p.buf, offset: p.offset, length: n},
		piece{buf: p.buf, offset: p.offset + n, length: p.length - n}
}

// replace swaps pieces[idx] for the non-empty pieces in with.
func (pt *PieceTable) replace(idx int, with ...piece) {
	next := make([]piece, 0, len(pt.pieces)+len(with))
	next = append(next, pt.pieces[:idx]...)
	for _, p := range with {
		if p.length > 0 {
			next = append(next, p)
		}
	}
	pt.pieces = append(next, pt.pieces[idx+1:]...)
}

// locate maps a logical position to the piece index and the offset inside it.
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}

func (pt *PieceTable) compact() {
	*pt = *NewPieceTable(pt.String())
}
