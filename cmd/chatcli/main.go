package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/client"
	"github.com/zhouzirui/pairchat/backend/internal/conversation"
	"github.com/zhouzirui/pairchat/backend/internal/logger"
	"github.com/zhouzirui/pairchat/backend/internal/middleware"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// Config 是命令行客户端的环境变量配置。
type Config struct {
	ServerURL    string `env:"CHAT_SERVER_URL,default=http://localhost:8080"`
	Token        string `env:"CHAT_TOKEN"`
	UserID       string `env:"CHAT_USER"`
	JWTSecret    string `env:"JWT_SECRET"`
	AssetBaseURL string `env:"ASSET_BASE_URL"`
	LogLevel     string `env:"LOG_LEVEL,default=warn"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "后端地址")
	flag.StringVar(&cfg.UserID, "user", cfg.UserID, "当前用户 ID，配合 JWT_SECRET 在本地签发令牌")
	partner := flag.String("partner", "", "启动后立即打开的会话对象")
	flag.Parse()

	zl, err := logger.New(cfg.LogLevel, true)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	token, selfID, err := resolveIdentity(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, token, selfID, *partner, os.Stdin, os.Stdout, zl); err != nil {
		log.Fatal(err)
	}
}

// resolveIdentity 优先使用 CHAT_TOKEN；否则用 CHAT_USER 和 JWT_SECRET 签发开发令牌。
func resolveIdentity(cfg Config) (string, string, error) {
	if cfg.Token != "" {
		userID, err := middleware.ParseToken(cfg.JWTSecret, cfg.Token)
		if err != nil && cfg.UserID == "" {
			return "", "", fmt.Errorf("无法从令牌解析用户，请设置 CHAT_USER: %w", err)
		}
		if cfg.UserID != "" {
			userID = cfg.UserID
		}
		return cfg.Token, userID, nil
	}
	if cfg.UserID == "" || cfg.JWTSecret == "" {
		return "", "", errors.New("请设置 CHAT_TOKEN，或同时设置 CHAT_USER 与 JWT_SECRET")
	}
	token, err := middleware.IssueToken(cfg.JWTSecret, cfg.UserID, 24*time.Hour)
	if err != nil {
		return "", "", err
	}
	return token, cfg.UserID, nil
}

func run(ctx context.Context, cfg Config, token, selfID, partner string, in io.Reader, out io.Writer, zl *zap.Logger) error {
	api := client.New(cfg.ServerURL, token)
	liveConn, err := client.DialLive(ctx, cfg.ServerURL, token, zl.Named("live"))
	if err != nil {
		return err
	}
	defer liveConn.Close()

	base := cfg.AssetBaseURL
	if base == "" {
		base = cfg.ServerURL
	}

	p := &printer{out: out, selfID: selfID}
	channel := &renderingChannel{inner: liveConn}
	vm := conversation.New(selfID, api, channel, attachment.NewNormalizer(base), zl.Named("view"))
	channel.render = func(m chat.Message) { p.printIfShown(vm, m) }

	fmt.Fprintf(out, "已以 %s 身份连接 %s，输入 /help 查看命令\n", selfID, cfg.ServerURL)

	if partner != "" {
		openConversation(ctx, vm, p, partner)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-liveConn.Done():
			return fmt.Errorf("实时通道已断开: %w", liveConn.Err())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, vm, p, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, vm *conversation.ViewModel, p *printer, line string) bool {
	if line == "" {
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		p.println("/open <用户ID>    打开会话并加载历史")
		p.println("/image <路径或URL> [文字]    发送图片")
		p.println("/history    重新打印当前会话")
		p.println("/close    关闭当前会话")
		p.println("/quit    退出")
	case "/open":
		openConversation(ctx, vm, p, rest)
	case "/close":
		vm.CloseConversation()
		p.println("会话已关闭")
	case "/history":
		p.printAll(vm.Messages())
	case "/image":
		source, caption, _ := strings.Cut(rest, " ")
		payload, err := loadImage(source)
		if err != nil {
			p.println("读取图片失败: " + err.Error())
			return false
		}
		send(ctx, vm, p, strings.TrimSpace(caption), payload)
	default:
		send(ctx, vm, p, line, nil)
	}
	return false
}

func openConversation(ctx context.Context, vm *conversation.ViewModel, p *printer, partnerID string) {
	if err := vm.OpenConversation(ctx, partnerID); err != nil {
		p.println("加载会话失败: " + err.Error())
		return
	}
	p.println("── 与 " + partnerID + " 的会话 ──")
	p.printAll(vm.Messages())
}

func send(ctx context.Context, vm *conversation.ViewModel, p *printer, text string, image *attachment.Payload) {
	msg, err := vm.Send(ctx, text, image)
	if err != nil {
		p.println("发送失败: " + err.Error())
		return
	}
	p.print(msg)
}

func loadImage(source string) (*attachment.Payload, error) {
	if source == "" {
		return nil, errors.New("缺少图片路径")
	}
	if attachment.IsAbsolute(source) {
		return &attachment.Payload{URL: source}, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, err
	}
	return attachment.FromBytes(data, filepath.Base(source)), nil
}
