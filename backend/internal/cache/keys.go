package cache

import "fmt"

// All keys of one document share the {docID:...} hash tag so the Lua cleanup
// touches a single cluster slot.
const (
	keyRoomFmt   = "presence:room:{docID:%s}"       // ZSet<userId, lastSeenUnixMilli>
	keyNamesFmt  = "presence:room:names:{docID:%s}" // Hash<userId -> username>
	keyCursorFmt = "presence:cursor:{docID:%s}:%s"  // String, JSON cursor/selection
)

func roomKey(docID string) string           { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string          { return fmt.Sprintf(keyNamesFmt, docID) }
func cursorKey(docID, userID string) string { return fmt.Sprintf(keyCursorFmt, docID, userID) }
