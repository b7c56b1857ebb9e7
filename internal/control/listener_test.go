package control_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxtrigger/internal/control"
)

func TestListener_DeliversDatagrams(t *testing.T) {
	p, state := newPlane(t, false, "tok")
	l := control.NewListener("127.0.0.1:0", p)
	if err := l.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Listen(ctx) }()

	conn, err := net.Dial("udp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("tok:TRIGGER:open browser\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case in := <-p.Injections():
		if in.Command != "cmd1" {
			t.Errorf("injection = %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no injection received")
	}

	if _, err := conn.Write([]byte("tok:CTRL:PAUSE")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !state.Paused() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !state.Paused() {
		t.Error("pause datagram not applied")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
	if l.Bound() {
		t.Error("socket still bound after Listen returned")
	}
}

func TestListener_BindConflict(t *testing.T) {
	taken, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer taken.Close()

	p, _ := newPlane(t, false, "")
	err = control.NewListener(taken.LocalAddr().String(), p).Listen(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bind") {
		t.Fatalf("err = %v, want bind error", err)
	}
}

func TestNotifier_SendsTrigger(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()

	n := control.NewNotifier(peer.LocalAddr().String(), "tok")
	defer n.Close()
	n.NotifyTrigger(context.Background(), "say hello")

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	k, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:k]); got != "tok:TRIGGER:say hello" {
		t.Errorf("payload = %q", got)
	}
}
