package textop

import (
	"math/rand"
	"testing"
)

func TestApply(t *testing.T) {
	cases := []struct {
		name string
		text string
		pos  int
		del  int
		ins  string
		want string
	}{
		{"insert middle", "hello world", 5, 0, "!", "hello! world"},
		{"replace prefix", "hello! world", 0, 5, "HELLO", "HELLO! world"},
		{"delete tail", "abcdef", 3, 3, "", "abc"},
		{"negative pos clamps to start", "abc", -4, 1, "x", "xbc"},
		{"pos past end clamps to end", "abc", 99, 2, "z", "abcz"},
		{"delete past end clamps", "abc", 1, 50, "", "a"},
		{"negative delete is noop delete", "abc", 1, -3, "Q", "aQbc"},
		{"empty text", "", 3, 3, "new", "new"},
		{"multibyte runes", "héllo", 2, 1, "L", "héLlo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Apply(tc.text, tc.pos, tc.del, tc.ins); got != tc.want {
				t.Fatalf("Apply(%q, %d, %d, %q) = %q, want %q", tc.text, tc.pos, tc.del, tc.ins, got, tc.want)
			}
		})
	}
}

func TestApplyLengthProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcdé漢 ")
	for i := 0; i < 2000; i++ {
		n := rng.Intn(20)
		buf := make([]rune, n)
		for j := range buf {
			buf[j] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(buf)
		pos := rng.Intn(60) - 20
		del := rng.Intn(60) - 20
		ins := string(alphabet[:rng.Intn(len(alphabet))])

		cpos, cdel := Clamp(n, pos, del)
		got := Apply(text, pos, del, ins)
		want := n - cdel + RuneLen(ins)
		if RuneLen(got) != want {
			t.Fatalf("Apply(%q, %d, %d, %q) length = %d, want %d (clamped pos=%d del=%d)",
				text, pos, del, ins, RuneLen(got), want, cpos, cdel)
		}
	}
}

func TestTransformPosition(t *testing.T) {
	cases := []struct {
		name  string
		pos   int
		prior []Op
		want  int
	}{
		{"no prior ops", 4, nil, 4},
		{"insert before shifts right", 5, []Op{{Pos: 1, Ins: "abc"}}, 8},
		{"delete before shifts left", 5, []Op{{Pos: 0, Del: 2}}, 3},
		{"op at same position does not shift", 5, []Op{{Pos: 5, Ins: "!"}}, 5},
		{"op after does not shift", 0, []Op{{Pos: 5, Ins: "!"}}, 0},
		{"never negative", 2, []Op{{Pos: 0, Del: 10}}, 0},
		{"sequence", 10, []Op{{Pos: 2, Ins: "xx"}, {Pos: 0, Del: 1}, {Pos: 20, Ins: "zz"}}, 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TransformPosition(tc.pos, tc.prior); got != tc.want {
				t.Fatalf("TransformPosition(%d, %+v) = %d, want %d", tc.pos, tc.prior, got, tc.want)
			}
		})
	}
}
