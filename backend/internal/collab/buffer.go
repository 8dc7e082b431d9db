package collab

import (
	"collabdoc/backend/internal/ot/delta"
)

// Buffer holds a room's authoritative text.
type Buffer interface {
	Len() int
	Apply(d delta.Delta) error
	String() string
}

/*
Piece table layout

Initial content "Hello world":

- original buffer: "Hello world"
- add buffer: ""
- pieces:

[ (orig, offset=0, length=11) ]

Inserting " collaborative" at 5 appends to the add buffer and splits the piece:

[
  (orig, offset=0, length=5),       // "Hello"
  (add,  offset=0, length=14),      // " collaborative"
  (orig, offset=5, length=6),       // " world"
]

Once the piece list grows past compactThreshold the table is flattened back
into a single original piece.
*/
