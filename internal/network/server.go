// Package network реализует протокол синхронизации алломантии поверх TCP или KCP:
// сервер принимает запросы клиентов, превращает их в команды симуляции
// и доставляет ответы владельцам сущностей.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xtaci/kcp-go/v5"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/logging"
	"github.com/annel0/mistborn/internal/protocol"
	"github.com/annel0/mistborn/internal/sim"
	"github.com/annel0/mistborn/internal/vec"
	"github.com/annel0/mistborn/internal/world"
)

// Game сторона симуляции, которой пользуется сервер
type Game interface {
	Join(ctx context.Context, playerID uint64) (*world.Entity, error)
	Leave(ctx context.Context, entityID uint64) error
	Submit(cmd sim.Command) bool
}

// Config параметры игрового сервера
type Config struct {
	Transport   string
	Addr        string
	IdleTimeout time.Duration // 0: 2 минуты
	SendBuffer  int           // исходящая очередь соединения
	Logger      *logging.Logger
	Metrics     *Metrics
}

// Server игровой сервер. Реализует sim.Outbox.
type Server struct {
	cfg      Config
	game     Game
	logger   *logging.Logger
	metrics  *Metrics
	listener net.Listener

	mu       sync.RWMutex
	conns    map[string]*Connection
	byEntity map[uint64]*Connection

	// lifecycle: Join с привязкой и снятие привязки с Leave не перемежаются
	lifecycle sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Connection соединение клиента
type Connection struct {
	id       string
	conn     net.Conn
	server   *Server
	entityID uint64 // 0 до RequestJoin; пишется только из readLoop
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

// NewServer создаёт сервер; слушатель открывается в Start
func NewServer(cfg Config, game Game) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetNetworkLogger()
	}
	return &Server{
		cfg:      cfg,
		game:     game,
		logger:   logger,
		metrics:  cfg.Metrics,
		conns:    make(map[string]*Connection),
		byEntity: make(map[uint64]*Connection),
	}
}

// Start открывает слушатель и запускает приём соединений
func (s *Server) Start() error {
	listener, err := Listen(s.cfg.Transport, s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("🚀 Игровой сервер запущен: %s://%s", s.transport(), listener.Addr())
	return nil
}

// Addr адрес слушателя
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop закрывает слушатель и все соединения; сущности покидают мир
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.RLock()
	for _, c := range s.conns {
		c.close()
	}
	s.mu.RUnlock()

	s.wg.Wait()
	s.logger.Info("🛑 Игровой сервер остановлен")
	return err
}

// ConnectionCount количество активных соединений
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) transport() string {
	if s.cfg.Transport == "" {
		return TransportTCP
	}
	return s.cfg.Transport
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return // Сервер останавливается
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Ошибка принятия соединения: %v", err)
			continue
		}

		if sess, ok := conn.(*kcp.UDPSession); ok {
			tuneSession(sess)
		}

		c := &Connection{
			id:     uuid.New().String(),
			conn:   conn,
			server: s,
			send:   make(chan []byte, s.cfg.SendBuffer),
			done:   make(chan struct{}),
		}

		s.mu.Lock()
		s.conns[c.id] = c
		s.mu.Unlock()
		s.metrics.connOpened()
		s.logger.Info("🔗 Клиент подключен: %s (%s)", c.id, conn.RemoteAddr())

		s.wg.Add(2)
		go c.writeLoop()
		go c.readLoop()
	}
}

// ===== sim.Outbox =====

// SendSelected ответ на запрос выбранного металла
func (s *Server) SendSelected(entityID uint64, index int32) {
	s.deliver(entityID, &protocol.ReplySelectedMetal{Index: index})
}

// NotifyRespawn уведомление о возрождении
func (s *Server) NotifyRespawn(entityID uint64) {
	s.deliver(entityID, &protocol.NotifyRespawn{})
}

// SyncPosition позиция после толчка/притяжения
func (s *Server) SyncPosition(entityID uint64, position, motion vec.Vec3) {
	s.deliver(entityID, &protocol.PositionSync{Position: position, Motion: motion})
}

// deliver ставит сообщение в очередь владельца; никогда не блокируется
func (s *Server) deliver(entityID uint64, msg protocol.Message) {
	s.mu.RLock()
	c, ok := s.byEntity[entityID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if !c.enqueue(protocol.Encode(msg)) {
		s.metrics.drop(DropQueueFull)
		s.logger.Warn("⚠️ Очередь соединения %s переполнена, %s отброшен", c.id, msg.Type())
		return
	}
	s.metrics.frame("out", msg.Type().String())
}

// ===== Соединение =====

func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Connection) writeLoop() {
	defer c.server.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := protocol.WriteFrame(c.conn, data); err != nil {
				c.server.logger.Debug("Ошибка записи в %s: %v", c.id, err)
				c.close()
				return
			}
		}
	}
}

func (c *Connection) readLoop() {
	s := c.server
	defer s.wg.Done()
	defer c.cleanup()

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		data, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("Соединение %s: %v", c.id, err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// некорректный кадр молча отбрасывается
			s.metrics.drop(DropDecode)
			s.logger.Debug("Отброшен кадр от %s: %v", c.id, err)
			continue
		}
		s.metrics.frame("in", msg.Type().String())
		c.handle(msg)
	}
}

// cleanup снимает привязку и выводит сущность из мира
func (c *Connection) cleanup() {
	s := c.server
	c.close()

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	delete(s.conns, c.id)
	owned := c.entityID != 0 && s.byEntity[c.entityID] == c
	if owned {
		delete(s.byEntity, c.entityID)
	}
	s.mu.Unlock()
	s.metrics.connClosed()

	if owned {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.game.Leave(ctx, c.entityID); err != nil {
			s.logger.Warn("⚠️ Ошибка выхода сущности %d: %v", c.entityID, err)
		}
	}
	s.logger.Info("👋 Соединение %s закрыто", c.id)
}

// handle обрабатывает одно входящее сообщение
func (c *Connection) handle(msg protocol.Message) {
	s := c.server

	if join, ok := msg.(*protocol.RequestJoin); ok {
		c.join(join.PlayerID)
		return
	}
	if c.entityID == 0 {
		s.metrics.drop(DropNotJoined)
		return
	}

	var cmd sim.Command
	switch m := msg.(type) {
	case *protocol.RequestSelectedMetal:
		if m.Index == protocol.QuerySelected {
			cmd = sim.QuerySelected(c.entityID)
			break
		}
		metal, ok := allomancy.MetalFromIndex(m.Index)
		if !ok {
			s.metrics.drop(DropOutOfRange)
			s.logger.Debug("Индекс металла %d вне диапазона от %s", m.Index, c.id)
			return
		}
		cmd = sim.SetSelected(c.entityID, metal)

	case *protocol.RequestBurnChange:
		metal, ok := allomancy.MetalFromIndex(m.MetalIndex)
		if !ok || !m.Action.Valid() {
			s.metrics.drop(DropOutOfRange)
			s.logger.Debug("Отброшен RequestBurnChange{%d, %s} от %s", m.MetalIndex, m.Action, c.id)
			return
		}
		cmd = burnCommand(c.entityID, metal, m.Action)

	default:
		// клиенту не положено слать серверные сообщения
		s.metrics.drop(DropUnexpected)
		return
	}

	if !s.game.Submit(cmd) {
		s.metrics.drop(DropSimRejected)
	}
}

func (c *Connection) join(playerID uint64) {
	s := c.server
	if c.entityID != 0 {
		s.logger.Debug("Повторный RequestJoin от %s проигнорирован", c.id)
		return
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	ent, err := s.game.Join(ctx, playerID)
	if err != nil {
		s.logger.Warn("⚠️ Вход игрока %d отклонён: %v", playerID, err)
		return
	}

	s.mu.Lock()
	if other, taken := s.byEntity[ent.ID]; taken && other != c {
		s.mu.Unlock()
		s.logger.Warn("⚠️ Игрок %d уже подключен через %s", playerID, other.id)
		return
	}
	s.byEntity[ent.ID] = c
	s.mu.Unlock()

	c.entityID = ent.ID
	s.logger.Info("🎮 Соединение %s привязано к сущности %d (игрок %d)", c.id, ent.ID, playerID)
}

// burnCommand переводит сетевое действие в команду симуляции
func burnCommand(entityID uint64, m allomancy.Metal, action protocol.BurnAction) sim.Command {
	switch action {
	case protocol.ActionFlare:
		return sim.Flare(entityID, m)
	case protocol.ActionDecrease:
		return sim.DecreaseIntensity(entityID, m)
	case protocol.ActionIncrease:
		return sim.IncreaseIntensity(entityID, m)
	default:
		return sim.ToggleBurn(entityID, m)
	}
}
