// burn-cli интерактивный клиент игрового протокола и выпуск токенов REST API.
//
//	burn-cli -addr localhost:7777 -player 42
//	burn-cli -mint-token admin -admin   (ключ из JWT_SECRET, base64)
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/auth"
	"github.com/annel0/mistborn/internal/logging"
	"github.com/annel0/mistborn/internal/network"
	"github.com/annel0/mistborn/internal/protocol"
	"github.com/annel0/mistborn/internal/vec"
)

func main() {
	var (
		addr      = flag.String("addr", "localhost:7777", "адрес игрового сервера")
		transport = flag.String("transport", network.TransportTCP, "транспорт: tcp или kcp")
		playerID  = flag.Uint64("player", 1, "id игрока")
		mint      = flag.String("mint-token", "", "выпустить JWT для оператора и выйти")
		admin     = flag.Bool("admin", false, "токен с правами администратора")
		ttl       = flag.Duration("ttl", 24*time.Hour, "время жизни токена")
	)
	flag.Parse()

	if *mint != "" {
		if err := mintToken(*mint, *admin, *ttl); err != nil {
			log.Fatalf("❌ %v", err)
		}
		return
	}

	logger := logging.NewWriterLogger("burn-cli", os.Stderr, logging.WARN)
	client, err := network.Connect(*transport, *addr, network.Handlers{
		OnSelected: func(m allomancy.Metal, ok bool) {
			if !ok {
				fmt.Println("← выбор: нет")
				return
			}
			fmt.Printf("← выбор: %s (%d)\n", m, m)
		},
		OnRespawn: func() { fmt.Println("← возрождение: состояние сброшено") },
		OnPosition: func(position, motion vec.Vec3) {
			fmt.Printf("← позиция %v, скорость %v\n", position, motion)
		},
	}, logger)
	if err != nil {
		log.Fatalf("❌ Не удалось подключиться к %s: %v", *addr, err)
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "❌ Соединение: %v\n", err)
		}
		cancel()
	}()

	if err := client.Join(*playerID); err != nil {
		log.Fatalf("❌ Join: %v", err)
	}
	fmt.Printf("✅ Подключено к %s как игрок %d. help: список команд\n", *addr, *playerID)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := execute(client, strings.Fields(line)); err != nil {
				fmt.Printf("⚠️ %v\n", err)
			}
		}
	}
}

func execute(client *network.Client, args []string) error {
	if len(args) == 0 {
		return nil
	}
	switch args[0] {
	case "help":
		printHelp()
		return nil
	case "select":
		if len(args) < 2 {
			return fmt.Errorf("использование: select <металл|индекс>")
		}
		m, err := parseMetal(args[1])
		if err != nil {
			return err
		}
		return client.Select(m)
	case "query":
		return client.QuerySelected()
	case "flare", "inc", "dec", "toggle":
		action := map[string]protocol.BurnAction{
			"flare":  protocol.ActionFlare,
			"inc":    protocol.ActionIncrease,
			"dec":    protocol.ActionDecrease,
			"toggle": protocol.ActionToggle,
		}[args[0]]
		m, err := burnTarget(client, args[1:])
		if err != nil {
			return err
		}
		return client.Burn(m, action)
	default:
		return fmt.Errorf("неизвестная команда %q", args[0])
	}
}

// burnTarget металл из аргумента или текущий выбор
func burnTarget(client *network.Client, args []string) (allomancy.Metal, error) {
	if len(args) > 0 {
		return parseMetal(args[0])
	}
	m, ok := client.Selected()
	if !ok {
		return allomancy.NoMetal, fmt.Errorf("металл не выбран")
	}
	return m, nil
}

func parseMetal(raw string) (allomancy.Metal, error) {
	if m, ok := allomancy.ParseMetal(strings.ToLower(raw)); ok {
		return m, nil
	}
	if idx, err := strconv.ParseInt(raw, 10, 32); err == nil {
		if m, ok := allomancy.MetalFromIndex(int32(idx)); ok {
			return m, nil
		}
	}
	return allomancy.NoMetal, fmt.Errorf("неизвестный металл %q", raw)
}

func mintToken(operator string, admin bool, ttl time.Duration) error {
	raw := os.Getenv("JWT_SECRET")
	if raw == "" {
		return fmt.Errorf("JWT_SECRET не задан")
	}
	secret, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("JWT_SECRET должен быть в base64: %w", err)
	}
	issuer, err := auth.NewTokenIssuer(secret, ttl)
	if err != nil {
		return err
	}
	token, err := issuer.Generate(operator, admin)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printHelp() {
	fmt.Println(`Команды:
  select <металл|индекс>   выбрать металл (без ответа сервера)
  query                    запросить выбор у сервера
  flare|inc|dec|toggle [металл]
                           действие над горением (по умолчанию выбранный металл)
  help                     эта справка`)
}
