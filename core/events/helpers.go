package events

import (
	"encoding/hex"
	"strconv"
	"strings"

	"swapcore/crypto"
)

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return ""
	}
	return strings.ToUpper(trimmed)
}

func identity(id [20]byte) string {
	return crypto.FormatIdentity(id)
}

func hash32(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

func boolString(v bool) string {
	return strconv.FormatBool(v)
}
