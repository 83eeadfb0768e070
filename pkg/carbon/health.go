//go:build linux

package carbon

import (
	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// ConnHealth is a read-only snapshot of the shipper's live TCP connection,
// for self-metrics introspection. It never influences shipping decisions.
type ConnHealth struct {
	RTTMicros    uint32
	RTTVarMicros uint32
	Retransmits  uint8
	TotalRetrans uint32
	State        uint8
}

// Health reads TCP_INFO off the shipper's current connection. It returns
// ErrNotConnected if the shipper has no live connection.
func (s *Shipper) Health() (ConnHealth, error) {
	conn, ok := s.Conn()
	if !ok {
		return ConnHealth{}, ErrNotConnected
	}
	fd := netfd.GetFdFromConn(conn)
	info, err := unix.GetsockoptTCPInfo(fd, unix.SOL_TCP, unix.TCP_INFO)
	if err != nil {
		return ConnHealth{}, err
	}
	return ConnHealth{
		RTTMicros:    info.Rtt,
		RTTVarMicros: info.Rttvar,
		Retransmits:  info.Retransmits,
		TotalRetrans: info.Total_retrans,
		State:        info.State,
	}, nil
}
