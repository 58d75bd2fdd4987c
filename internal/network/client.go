package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/logging"
	"github.com/annel0/mistborn/internal/protocol"
	"github.com/annel0/mistborn/internal/vec"
)

// Handlers обратные вызовы клиента; вызываются из Run
type Handlers struct {
	OnSelected func(m allomancy.Metal, ok bool)
	OnRespawn  func()
	OnPosition func(position, motion vec.Vec3)
}

// Client клиентская сторона протокола. Хранит локальный выбранный металл.
type Client struct {
	conn     net.Conn
	logger   *logging.Logger
	handlers Handlers

	writeMu  sync.Mutex
	mu       sync.Mutex
	selected allomancy.Metal
}

// NewClient оборачивает готовое соединение
func NewClient(conn net.Conn, handlers Handlers, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.GetNetworkLogger()
	}
	return &Client{
		conn:     conn,
		logger:   logger,
		handlers: handlers,
		selected: allomancy.NoMetal,
	}
}

// Connect подключается к серверу
func Connect(transport, addr string, handlers Handlers, logger *logging.Logger) (*Client, error) {
	conn, err := Dial(transport, addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, handlers, logger), nil
}

func (c *Client) send(msg protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.conn, msg)
}

// Join привязывает соединение к игроку
func (c *Client) Join(playerID uint64) error {
	return c.send(&protocol.RequestJoin{PlayerID: playerID})
}

// Select выбирает металл локально и сообщает серверу (без ответа)
func (c *Client) Select(m allomancy.Metal) error {
	if !m.Valid() {
		return errors.New("металл вне диапазона")
	}
	c.mu.Lock()
	c.selected = m
	c.mu.Unlock()
	return c.send(&protocol.RequestSelectedMetal{Index: int32(m)})
}

// QuerySelected спрашивает у сервера текущий выбор
func (c *Client) QuerySelected() error {
	return c.send(&protocol.RequestSelectedMetal{Index: protocol.QuerySelected})
}

// Burn действие над горением металла
func (c *Client) Burn(m allomancy.Metal, action protocol.BurnAction) error {
	return c.send(&protocol.RequestBurnChange{MetalIndex: int32(m), Action: action})
}

// Selected локальный выбранный металл
func (c *Client) Selected() (allomancy.Metal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected, c.selected.Valid()
}

// Run читает сообщения сервера до закрытия соединения или отмены ctx
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		data, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Debug("Отброшено сообщение сервера: %v", err)
			continue
		}
		c.handle(msg)
	}
}

// Close закрывает соединение
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.ReplySelectedMetal:
		if m.Index == protocol.QuerySelected {
			// сервер сообщает «ничего не выбрано»: локальный выбор не трогаем
			c.notifySelected()
			return
		}
		metal, ok := allomancy.MetalFromIndex(m.Index)
		if !ok {
			c.logger.Debug("Ответ с индексом %d вне диапазона отброшен", m.Index)
			return
		}
		c.mu.Lock()
		c.selected = metal
		c.mu.Unlock()
		c.notifySelected()

	case *protocol.NotifyRespawn:
		if c.handlers.OnRespawn != nil {
			c.handlers.OnRespawn()
		}

	case *protocol.PositionSync:
		if c.handlers.OnPosition != nil {
			c.handlers.OnPosition(m.Position, m.Motion)
		}

	default:
		c.logger.Debug("Неожиданное сообщение от сервера: %s", msg.Type())
	}
}

func (c *Client) notifySelected() {
	if c.handlers.OnSelected != nil {
		c.handlers.OnSelected(c.Selected())
	}
}
