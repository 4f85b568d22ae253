package ledger

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// cursorPos is the pagination position: creation time with id as tiebreak.
type cursorPos struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

func encodeCursor(pos cursorPos) string {
	data, _ := json.Marshal(pos)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(cursor string) (cursorPos, error) {
	var pos cursorPos
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return pos, err
	}
	if err := json.Unmarshal(data, &pos); err != nil {
		return pos, err
	}
	return pos, nil
}
