// Package diag is a diagnostic RPC group: liveness pings, payload echo, remote status and
// log forwarding. Payloads are msgpack encoded.
package diag

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/ipcmux/internal/rpc"
	"github.com/danmuck/ipcmux/internal/shm"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const GroupName = "diag"

const (
	CmdPing  uint8 = 0x01
	CmdEcho  uint8 = 0x02
	CmdStats uint8 = 0x03

	EvtLog uint8 = 0x01
)

var ErrNotBound = errors.New("diag: service not bound to an rpc instance")

type Ping struct {
	Seq  uint32 `msgpack:"seq"`
	Sent int64  `msgpack:"sent"`
}

type Pong struct {
	Seq  uint32 `msgpack:"seq"`
	Node string `msgpack:"node"`
	Seen int64  `msgpack:"seen"`
}

// StatsReply is the peer's view of itself.
type StatsReply struct {
	Node      string     `msgpack:"node"`
	RPC       rpc.Status `msgpack:"rpc"`
	Transport *shm.Stats `msgpack:"transport,omitempty"`
	Pings     uint64     `msgpack:"pings"`
	Logs      uint64     `msgpack:"logs"`
}

// LogRecord is forwarded to the peer's logger.
type LogRecord struct {
	Node    string `msgpack:"node"`
	Level   string `msgpack:"level"`
	Message string `msgpack:"msg"`
}

// Service serves the diag group on one side and issues its calls to the other.
type Service struct {
	node  string
	log   zerolog.Logger
	group *rpc.Group
	rpc   atomic.Pointer[rpc.RPC]

	// TransportStats, when set, is included in stats replies.
	TransportStats func() shm.Stats
	// OnLog observes records forwarded by the peer.
	OnLog func(LogRecord)

	pings atomic.Uint64
	logs  atomic.Uint64
}

func New(node string, logger zerolog.Logger) *Service {
	s := &Service{
		node: node,
		log:  logger.With().Str("component", "diag").Logger(),
	}
	g := rpc.NewGroup(GroupName)
	g.HandleCommand(CmdPing, s.handlePing)
	g.HandleCommand(CmdEcho, s.handleEcho)
	g.HandleCommand(CmdStats, s.handleStats)
	g.HandleEvent(EvtLog, s.handleLog)
	g.OnError = func(e *rpc.Error) {
		s.log.Debug().Err(e).Msg("diag error")
	}
	s.group = g
	return s
}

// Group is registered with the instance the service is bound to.
func (s *Service) Group() *rpc.Group {
	return s.group
}

func (s *Service) Bind(r *rpc.RPC) {
	s.rpc.Store(r)
}

// Ping round-trips a sequence number and returns the peer's answer and the elapsed time.
func (s *Service) Ping(task *rpc.Task, seq uint32) (Pong, time.Duration, error) {
	start := time.Now()
	var pong Pong
	err := s.call(task, CmdPing, Ping{Seq: seq, Sent: start.UnixNano()}, &pong)
	if err != nil {
		return Pong{}, 0, err
	}
	if pong.Seq != seq {
		return pong, 0, fmt.Errorf("diag: pong seq %d, want %d", pong.Seq, seq)
	}
	return pong, time.Since(start), nil
}

// Echo sends data and returns what the peer sent back.
func (s *Service) Echo(task *rpc.Task, data []byte) ([]byte, error) {
	var out []byte
	if err := s.call(task, CmdEcho, data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Stats(task *rpc.Task) (StatsReply, error) {
	var out StatsReply
	err := s.call(task, CmdStats, struct{}{}, &out)
	return out, err
}

// Log forwards a record to the peer as an event.
func (s *Service) Log(level zerolog.Level, msg string) error {
	r := s.rpc.Load()
	if r == nil {
		return ErrNotBound
	}
	b, err := encode(r, LogRecord{Node: s.node, Level: level.String(), Message: msg})
	if err != nil {
		return err
	}
	return r.Evt(s.group, EvtLog, b)
}

func (s *Service) call(task *rpc.Task, id uint8, req, out any) error {
	r := s.rpc.Load()
	if r == nil {
		return ErrNotBound
	}
	b, err := encode(r, req)
	if err != nil {
		return err
	}
	rsp, err := r.CmdRsp(task, s.group, id, b)
	if err != nil {
		return err
	}
	defer rsp.DecodingDone()
	if err := msgpack.Unmarshal(rsp.Data, out); err != nil {
		return fmt.Errorf("diag: decode reply to command %d: %w", id, err)
	}
	return nil
}

func (s *Service) handlePing(p *rpc.Packet) {
	var req Ping
	err := msgpack.Unmarshal(p.Data, &req)
	p.DecodingDone()
	if err != nil {
		s.log.Warn().Err(err).Msg("bad ping")
	}
	s.pings.Add(1)
	s.respond(p, Pong{Seq: req.Seq, Node: s.node, Seen: time.Now().UnixNano()})
}

func (s *Service) handleEcho(p *rpc.Packet) {
	var data []byte
	err := msgpack.Unmarshal(p.Data, &data)
	p.DecodingDone()
	if err != nil {
		s.log.Warn().Err(err).Msg("bad echo")
	}
	s.respond(p, data)
}

func (s *Service) handleStats(p *rpc.Packet) {
	p.DecodingDone()
	reply := StatsReply{
		Node:  s.node,
		Pings: s.pings.Load(),
		Logs:  s.logs.Load(),
	}
	if r := s.rpc.Load(); r != nil {
		reply.RPC = r.Status()
	}
	if s.TransportStats != nil {
		ts := s.TransportStats()
		reply.Transport = &ts
	}
	s.respond(p, reply)
}

func (s *Service) handleLog(p *rpc.Packet) {
	var rec LogRecord
	err := msgpack.Unmarshal(p.Data, &rec)
	p.DecodingDone()
	if err != nil {
		s.log.Warn().Err(err).Msg("bad log record")
		return
	}
	s.logs.Add(1)
	level, err := zerolog.ParseLevel(rec.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	s.log.WithLevel(level).Str("peer", rec.Node).Msg(rec.Message)
	if s.OnLog != nil {
		s.OnLog(rec)
	}
}

func (s *Service) respond(p *rpc.Packet, v any) {
	r := s.rpc.Load()
	if r == nil {
		s.log.Error().Msg("command served before bind")
		return
	}
	b, err := encode(r, v)
	if err != nil {
		s.log.Error().Err(err).Msg("encode reply")
		return
	}
	if err := p.Respond(b); err != nil {
		s.log.Warn().Err(err).Msg("send reply")
	}
}

func encode(r *rpc.RPC, v any) (*rpc.Buffer, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("diag: encode: %w", err)
	}
	b, err := r.Alloc(len(data))
	if err != nil {
		return nil, err
	}
	copy(b.Payload, data)
	return b, nil
}
