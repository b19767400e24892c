package domain

import (
	"fmt"
	"strings"
)

const poolRoomPrefix = "pool:"

// Room = "pool:<pool_id>"
func MakePoolRoom(poolID string) string {
	return poolRoomPrefix + poolID
}

func ParsePoolRoom(room string) (string, error) {
	if !strings.HasPrefix(room, poolRoomPrefix) {
		return "", fmt.Errorf("invalid room format: %s", room)
	}

	id := strings.TrimPrefix(room, poolRoomPrefix)
	if id == "" {
		return "", fmt.Errorf("empty pool id in room: %s", room)
	}

	return id, nil
}
