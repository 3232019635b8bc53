package login

import (
	"crypto/md5"

	mcnet "badc0de.net/pkg/go-mcproto/net"
)

// OfflineUUID returns the name-based (version 3) UUID an offline-mode server
// gives a player: the MD5 of "OfflinePlayer:" and the name.
func OfflineUUID(name string) mcnet.UUID {
	u := mcnet.UUID(md5.Sum([]byte("OfflinePlayer:" + name)))
	u[6] = u[6]&0x0f | 0x30
	u[8] = u[8]&0x3f | 0x80
	return u
}
