package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeValkey is a minimal RESP server backed by a map. Supports the commands
// the provider issues: PING, AUTH, SELECT, GET, SET (with PX), DEL.
type fakeValkey struct {
	listener net.Listener
	mu       sync.Mutex
	items    map[string]string
	commands []string
}

func newFakeValkey(t *testing.T) *fakeValkey {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := &fakeValkey{listener: listener, items: make(map[string]string)}
	go server.serve()
	t.Cleanup(func() { listener.Close() })
	return server
}

func (f *fakeValkey) addr() string { return f.listener.Addr().String() }

func (f *fakeValkey) seen(command string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commands {
		if c == command {
			return true
		}
	}
	return false
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.commands = append(f.commands, strings.ToUpper(args[0]))
		var reply string
		switch strings.ToUpper(args[0]) {
		case "PING":
			reply = "+PONG\r\n"
		case "AUTH", "SELECT":
			reply = "+OK\r\n"
		case "SET":
			f.items[args[1]] = args[2]
			reply = "+OK\r\n"
		case "GET":
			if value, ok := f.items[args[1]]; ok {
				reply = fmt.Sprintf("$%d\r\n%s\r\n", len(value), value)
			} else {
				reply = "$-1\r\n"
			}
		case "DEL":
			delete(f.items, args[1])
			reply = ":1\r\n"
		default:
			reply = "-ERR unknown command\r\n"
		}
		f.mu.Unlock()
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	header = strings.TrimRight(header, "\r\n")
	if len(header) == 0 || header[0] != '*' {
		return nil, errors.New("bad command header")
	}
	var count int
	if _, err := fmt.Sscanf(header, "*%d", &count); err != nil {
		return nil, err
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if _, err := r.ReadString('\n'); err != nil {
			return nil, err
		}
		arg, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		args = append(args, strings.TrimRight(arg, "\r\n"))
	}
	return args, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	server := newFakeValkey(t)
	provider, err := NewValkeyProvider(ValkeyConfig{Addr: server.addr()})
	if err != nil {
		t.Fatalf("NewValkeyProvider: %v", err)
	}
	defer provider.Close()

	ctx := context.Background()
	if err := provider.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := provider.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("value = %q, want v1", got)
	}

	if err := provider.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, err := provider.Get(ctx, "k1"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("error after delete = %v, want ErrCacheMiss", err)
	}
}

func TestValkeyProviderMiss(t *testing.T) {
	server := newFakeValkey(t)
	provider, err := NewValkeyProvider(ValkeyConfig{Addr: server.addr()})
	if err != nil {
		t.Fatalf("NewValkeyProvider: %v", err)
	}
	if _, err := provider.Get(context.Background(), "absent"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("error = %v, want ErrCacheMiss", err)
	}
}

func TestValkeyProviderAuthAndSelect(t *testing.T) {
	server := newFakeValkey(t)
	provider, err := NewValkeyProvider(ValkeyConfig{Addr: server.addr(), Password: "secret", DB: 3})
	if err != nil {
		t.Fatalf("NewValkeyProvider: %v", err)
	}
	if err := provider.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !server.seen("AUTH") {
		t.Fatal("AUTH was never sent")
	}
	if !server.seen("SELECT") {
		t.Fatal("SELECT was never sent")
	}
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{}); err == nil {
		t.Fatal("expected error without an address")
	}
}

func TestValkeyProviderUnreachable(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}); err == nil {
		t.Fatal("expected ping failure against a closed port")
	}
}

func TestNoopProvider(t *testing.T) {
	var provider Provider = NoopProvider{}
	ctx := context.Background()
	if err := provider.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := provider.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get error = %v, want ErrCacheMiss", err)
	}
	if err := provider.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := provider.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
