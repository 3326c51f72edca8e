package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID 生成带前缀的短ID，例如 turn_1f0c9a2b3c4d
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
