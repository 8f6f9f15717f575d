package trap

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestListenBindConflict(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	_, err = Listen(ln.Addr().String())
	if !errors.Is(err, ErrBind) {
		t.Fatalf("second Listen error = %v, want ErrBind", err)
	}
}

func TestServeReturnsWhenListenerCloses(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := NewServer(newTestHandler(&memorySink{}, nil), 0, nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	time.Sleep(20 * time.Millisecond)
	ln.Close()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func readUntil(r *bufio.Reader, suffix string) error {
	var seen strings.Builder
	for !strings.HasSuffix(seen.String(), suffix) {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		seen.WriteByte(b)
	}
	return nil
}

// Every loopback dial comes from 127.0.0.1, so the whitelist is emptied.
func TestServeConcurrentConnections(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	sink := &memorySink{}
	h := newTestHandler(sink, nil)
	h.whitelist = NewWhitelist(nil)
	srv := NewServer(h, 4, nil)
	go srv.Serve(ln)

	const clients = 20
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := net.Dial("tcp", ln.Addr().String())
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			defer c.Close()
			r := bufio.NewReader(c)
			if err := readUntil(r, UsernamePrompt); err != nil {
				t.Errorf("read prompt: %v", err)
				return
			}
			io.WriteString(c, "user\n")
			if err := readUntil(r, PasswordPrompt); err != nil {
				t.Errorf("read password prompt: %v", err)
				return
			}
			io.WriteString(c, "secret\n")
			io.Copy(io.Discard, r)
		}()
	}
	wg.Wait()
	ln.Close()
	srv.Wait()

	recs := sink.all()
	if len(recs) != clients {
		t.Fatalf("got %d records, want %d", len(recs), clients)
	}
	for _, rec := range recs {
		if rec.SourceAddress != "127.0.0.1" || rec.Region != LocalRegion {
			t.Errorf("record = %+v", rec)
		}
	}
}

// failingListener returns errTransient from the first failures Accept calls.
type failingListener struct {
	net.Listener
	mu       sync.Mutex
	failures int
}

var errTransient = errors.New("accept tcp: too many open files")

func (l *failingListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return nil, errTransient
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func TestServeRetriesTransientAcceptErrors(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	srv := NewServer(newTestHandler(&memorySink{}, nil), 0, zap.New(core))

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(&failingListener{Listener: ln, failures: 3}) }()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(c)
	expect(t, r, "Ubuntu 18.04.6 LTS (GNU/Linux 5.4.0-generic)\n")
	expect(t, r, UsernamePrompt)
	c.Close()

	ln.Close()
	if err := <-errc; err != nil {
		t.Errorf("Serve() = %v, want nil", err)
	}
	srv.Wait()

	warnings := logs.FilterMessage("accept failed, retrying").All()
	if len(warnings) != 3 {
		t.Fatalf("got %d accept warnings, want 3", len(warnings))
	}
	if got := warnings[0].ContextMap()["error"]; got != errTransient.Error() {
		t.Errorf("logged error = %v", got)
	}
}

func TestWaitCoversServeReturn(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := NewServer(newTestHandler(&memorySink{}, nil), 0, nil)
	go srv.Serve(ln)

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	r := bufio.NewReader(c)
	if err := readUntil(r, UsernamePrompt); err != nil {
		t.Fatalf("read prompt: %v", err)
	}

	ln.Close()
	waited := make(chan struct{})
	go func() {
		srv.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a connection was open")
	case <-time.After(50 * time.Millisecond):
	}

	c.Close()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the connection closed")
	}
}
