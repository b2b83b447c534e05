package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/zhouzirui/pairchat/backend/internal/conversation"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// renderingChannel 在视图模型处理完每条实时消息后触发重绘。
type renderingChannel struct {
	inner  conversation.Channel
	render func(chat.Message)
}

func (c *renderingChannel) Subscribe(handler func(chat.Message)) func() {
	return c.inner.Subscribe(func(m chat.Message) {
		handler(m)
		if c.render != nil {
			c.render(m)
		}
	})
}

type printer struct {
	mu     sync.Mutex
	out    io.Writer
	selfID string
}

func (p *printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func (p *printer) print(m chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeLocked(m)
}

func (p *printer) printAll(messages []chat.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(messages) == 0 {
		fmt.Fprintln(p.out, "(暂无消息)")
		return
	}
	for _, m := range messages {
		p.writeLocked(m)
	}
}

// printIfShown 只打印被当前会话接收的消息。
func (p *printer) printIfShown(vm *conversation.ViewModel, m chat.Message) {
	if m.SenderID == p.selfID {
		// 自己发送的消息已在 send 中打印。
		return
	}
	for _, shown := range vm.Messages() {
		if shown.ID == m.ID {
			p.print(shown)
			return
		}
	}
}

func (p *printer) writeLocked(m chat.Message) {
	who := m.SenderID
	if who == p.selfID {
		who = "我"
	}
	line := fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Local().Format("15:04:05"), who, m.Text)
	if m.Image != nil {
		line += " [图片 " + *m.Image + "]"
	}
	fmt.Fprintln(p.out, line)
}
