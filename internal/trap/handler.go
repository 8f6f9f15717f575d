package trap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"shadowlog/internal/model"
	"shadowlog/internal/util"

	"go.uber.org/zap"
)

// State is a step of the fake login exchange.
type State int

const (
	StateConnected State = iota
	StateBannerSent
	StateUsernamePrompted
	StateUsernameReceived
	StatePasswordPrompted
	StatePasswordReceived
	StateClassified
	StateLogged
	StateSkipped
	StateFailureMessageSent
	StateClosed
)

var stateNames = [...]string{
	"connected",
	"banner_sent",
	"username_prompted",
	"username_received",
	"password_prompted",
	"password_received",
	"classified",
	"logged",
	"skipped",
	"failure_message_sent",
	"closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

const (
	UsernamePrompt = "login: "
	PasswordPrompt = "Password: "
	FailureMessage = "\nLogin incorrect\n"

	DefaultMaxLineBytes = 1024
)

// RecordSink receives completed captures. Append must not block for long
// and must not fail the caller.
type RecordSink interface {
	Append(rec *model.AttackRecord)
}

type HandlerConfig struct {
	Banner       string
	FailDelay    time.Duration
	ReadTimeout  time.Duration
	MaxLineBytes int
}

// Handler drives one connection through banner, prompts, capture and the
// scripted failure. It is safe to share between connections.
type Handler struct {
	banner      []byte
	failDelay   time.Duration
	readTimeout time.Duration
	maxLine     int
	whitelist   *Whitelist
	enricher    *Enricher
	sink        RecordSink
	logger      *zap.Logger
	now         func() time.Time
}

func NewHandler(cfg HandlerConfig, whitelist *Whitelist, enricher *Enricher, sink RecordSink, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxLine := cfg.MaxLineBytes
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	banner := cfg.Banner
	if len(banner) == 0 || banner[len(banner)-1] != '\n' {
		banner += "\n"
	}
	return &Handler{
		banner:      []byte(banner),
		failDelay:   cfg.FailDelay,
		readTimeout: cfg.ReadTimeout,
		maxLine:     maxLine,
		whitelist:   whitelist,
		enricher:    enricher,
		sink:        sink,
		logger:      logger,
		now:         time.Now,
	}
}

// Serve runs the exchange and always closes conn. It returns the last state
// reached, which is StateClosed only for a complete exchange.
func (h *Handler) Serve(conn net.Conn) State {
	defer conn.Close()

	peer := peerHost(conn.RemoteAddr())
	log := h.logger.With(zap.String("peer", peer))

	state, err := h.exchange(conn, peer)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			log.Debug("peer left before completing login", zap.Stringer("state", state))
		} else {
			log.Debug("connection aborted", zap.Stringer("state", state), util.ErrorField(err))
		}
		return state
	}
	return StateClosed
}

func (h *Handler) exchange(conn net.Conn, peer string) (State, error) {
	state := StateConnected
	r := bufio.NewReaderSize(conn, h.maxLine+1)

	if _, err := conn.Write(h.banner); err != nil {
		return state, fmt.Errorf("write banner: %w", err)
	}
	state = StateBannerSent

	if _, err := io.WriteString(conn, UsernamePrompt); err != nil {
		return state, fmt.Errorf("write username prompt: %w", err)
	}
	state = StateUsernamePrompted

	username, err := h.readField(conn, r)
	if err != nil {
		return state, fmt.Errorf("read username: %w", err)
	}
	state = StateUsernameReceived

	if _, err := io.WriteString(conn, PasswordPrompt); err != nil {
		return state, fmt.Errorf("write password prompt: %w", err)
	}
	state = StatePasswordPrompted

	password, err := h.readField(conn, r)
	if err != nil {
		return state, fmt.Errorf("read password: %w", err)
	}
	state = StatePasswordReceived

	class := h.whitelist.Classify(peer)
	state = StateClassified

	if class == Trusted {
		h.logger.Debug("trusted peer, capture skipped", zap.String("peer", peer))
		state = StateSkipped
	} else {
		rec := model.NewAttackRecord(h.now(), peer, username, password,
			h.enricher.Region(peer), h.enricher.ThreatScore())
		h.sink.Append(rec)
		h.logger.Info("credentials captured",
			zap.String("peer", peer),
			zap.String("region", rec.Region),
			zap.Int("threat_level", rec.ThreatLevel))
		state = StateLogged
	}

	if h.failDelay > 0 {
		time.Sleep(h.failDelay)
	}
	if _, err := io.WriteString(conn, FailureMessage); err != nil {
		return state, fmt.Errorf("write failure message: %w", err)
	}
	return StateFailureMessageSent, nil
}

// readField reads one newline-terminated line, keeping at most maxLine
// bytes. A line cut short by EOF is an error.
func (h *Handler) readField(conn net.Conn, r *bufio.Reader) (string, error) {
	if h.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
			return "", err
		}
	}

	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if room := h.maxLine - len(line); room > 0 {
			line = append(line, chunk[:min(room, len(chunk))]...)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return "", err
	}
	line = bytes.TrimRight(line, "\r\n")
	return util.DecodeLenient(line), nil
}

// peerHost strips the port. Addresses without one are returned as is.
func peerHost(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	s := addr.String()
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return s
	}
	return host
}
