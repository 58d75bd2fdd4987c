package network

import (
	"fmt"
	"net"

	"github.com/xtaci/kcp-go/v5"
)

// Поддерживаемые транспорты
const (
	TransportTCP = "tcp"
	TransportKCP = "kcp"
)

// Listen открывает слушатель выбранного транспорта.
// KCP без шифрования и FEC: кадры протокола и так маленькие.
func Listen(transport, addr string) (net.Listener, error) {
	switch transport {
	case TransportTCP, "":
		return net.Listen("tcp", addr)
	case TransportKCP:
		l, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("неизвестный транспорт %q", transport)
	}
}

// Dial подключается к серверу выбранным транспортом
func Dial(transport, addr string) (net.Conn, error) {
	switch transport {
	case TransportTCP, "":
		return net.Dial("tcp", addr)
	case TransportKCP:
		sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		tuneSession(sess)
		return sess, nil
	default:
		return nil, fmt.Errorf("неизвестный транспорт %q", transport)
	}
}

// tuneSession настройки KCP для игрового трафика
func tuneSession(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetWriteDelay(false)
	sess.SetNoDelay(1, 20, 2, 1) // Агрессивные настройки для игр
	sess.SetWindowSize(512, 512)
	sess.SetMtu(1400)
}
