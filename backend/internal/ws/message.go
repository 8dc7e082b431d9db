package ws

import (
	"bytes"
	"encoding/json"
	"strconv"
)

const (
	TypeOp       = "op"
	TypePresence = "presence"
)

// envelope is the only part of a frame read before dispatch. Type is left
// untyped so a frame with a non-string type still relays.
type envelope struct {
	Type any `json:"type"`
}

// frameType reports the frame's type, or "" for anything that is not an
// object with a string type.
func frameType(data []byte) string {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	t, _ := env.Type.(string)
	return t
}

// ClientMessage is an inbound op frame.
type ClientMessage struct {
	Type     string `json:"type"`
	Version  int    `json:"version"`
	Pos      int    `json:"pos"`
	Del      int    `json:"del"`
	Ins      string `json:"ins"`
	UserID   FlexID `json:"user_id"`
	UserName string `json:"user_name"`
}

// FlexID accepts a user id sent either as a JSON string or a number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}
