package rpc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/danmuck/ipcmux/internal/protocol"
	"github.com/danmuck/ipcmux/internal/protocol/frame"
	"github.com/danmuck/ipcmux/internal/transport"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// rawPeer drives one end of a loopback link by hand to exercise malformed traffic.
type rawPeer struct {
	t  *testing.T
	tr *transport.Loopback
	rx chan []byte
}

func (p *rawPeer) send(pkt []byte) {
	p.t.Helper()
	buf, err := p.tr.Alloc(len(pkt))
	require.NoError(p.t, err)
	copy(buf.Data, pkt)
	require.NoError(p.t, p.tr.Send(buf, len(pkt)))
}

func (p *rawPeer) next() []byte {
	p.t.Helper()
	select {
	case pkt := <-p.rx:
		return pkt
	case <-time.After(waitFor):
		p.t.Fatalf("no packet from instance")
		return nil
	}
}

// startRaw initializes an instance against a hand driven peer and consumes its INIT.
func startRaw(t *testing.T, groups ...*Group) (*peer, *rawPeer) {
	t.Helper()
	ta, tb := transport.NewLoopbackPair(256, 8)
	a := newPeer(t, ta, "peer-a", groups...)
	raw := &rawPeer{t: t, tr: tb, rx: make(chan []byte, 16)}
	t.Cleanup(func() { _ = tb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.rpc.Init(ctx) })
	require.NoError(t, tb.Start(ctx, func(buf transport.Buffer) { raw.rx <- bytes.Clone(buf.Data) }))

	initPkt := raw.next()
	hdr, err := frame.DecodeHeader(initPkt)
	require.NoError(t, err)
	require.Equal(t, frame.TypeINIT, hdr.Type)
	local, err := frame.DecodeInit(initPkt[frame.HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, frame.ProtocolVersion, local.Version)
	require.Equal(t, uint8(2), local.PoolDepth)
	require.Equal(t, uint8(len(groups)), local.GroupCount)

	pkt := make([]byte, frame.HeaderLen+frame.InitPayloadLen)
	require.NoError(t, frame.EncodeHeader(pkt, frame.Header{Type: frame.TypeINIT, Dst: frame.NoContext, Group: frame.NoGroup}))
	require.NoError(t, frame.EncodeInit(pkt[frame.HeaderLen:], frame.Init{
		Version:    frame.ProtocolVersion,
		PoolDepth:  1,
		GroupCount: local.GroupCount,
		Checksum:   local.Checksum,
	}))
	raw.send(pkt)
	require.NoError(t, g.Wait())
	return a, raw
}

func TestShortHeaderIsEchoedAsError(t *testing.T) {
	a, raw := startRaw(t, NewGroup("diag"))
	raw.send([]byte{0x80, 0x01})

	pkt := raw.next()
	hdr, err := frame.DecodeHeader(pkt)
	require.NoError(t, err)
	require.Equal(t, frame.TypeERR, hdr.Type)
	require.Equal(t, frame.NoContext, hdr.Dst)
	code, err := frame.DecodeErrCode(pkt[frame.HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, int32(protocol.CodeBadMessage), code)
	require.Eventually(t, func() bool { return a.rec.count(SourceRecv) == 1 }, waitFor, time.Millisecond)
}

func TestRemoteErrorIsNotEchoed(t *testing.T) {
	a, raw := startRaw(t, NewGroup("diag"))
	pkt := make([]byte, frame.HeaderLen+frame.ErrPayloadLen)
	require.NoError(t, frame.EncodeHeader(pkt, frame.Header{Type: frame.TypeERR, ID: 3, Dst: frame.NoContext, Group: 0}))
	require.NoError(t, frame.EncodeErrCode(pkt[frame.HeaderLen:], int32(protocol.CodeInvalid)))
	raw.send(pkt)

	require.Eventually(t, func() bool { return a.rec.count(SourceRemote) == 1 }, waitFor, time.Millisecond)
	e := a.rec.errors()[0]
	require.Equal(t, protocol.CodeInvalid, e.Code)
	require.Equal(t, "diag", e.Group.Name)
	select {
	case pkt := <-raw.rx:
		t.Fatalf("remote error was echoed: % x", pkt)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestResponseWithoutWaiterFaults(t *testing.T) {
	a, raw := startRaw(t, NewGroup("diag"))
	pkt := make([]byte, frame.HeaderLen)
	require.NoError(t, frame.EncodeHeader(pkt, frame.Header{Type: frame.TypeRSP, Dst: 3, Group: 0}))
	raw.send(pkt)

	require.Eventually(t, func() bool { return len(a.rec.faultList()) == 1 }, waitFor, time.Millisecond)
	require.ErrorIs(t, a.rec.faultList()[0], ErrUnexpectedResponse)
}

func TestCommandWireFormat(t *testing.T) {
	g := NewGroup("diag")
	a, raw := startRaw(t, g)

	req := payload(t, a.rpc, []byte{0xAB})
	done := make(chan error, 1)
	var got []byte
	go func() {
		rsp, err := a.rpc.CmdRsp(nil, g, 5, req)
		if err == nil {
			got = bytes.Clone(rsp.Data)
			rsp.DecodingDone()
		}
		done <- err
	}()

	pkt := raw.next()
	hdr, err := frame.DecodeHeader(pkt)
	require.NoError(t, err)
	require.Equal(t, frame.TypeCMD, hdr.Type)
	require.Equal(t, uint8(5), hdr.ID)
	require.Equal(t, frame.NoContext, hdr.Dst)
	require.Equal(t, uint8(0), hdr.Group)
	require.Equal(t, []byte{0xAB}, pkt[frame.HeaderLen:])

	rsp := make([]byte, frame.HeaderLen+2)
	require.NoError(t, frame.EncodeHeader(rsp, frame.Header{Type: frame.TypeRSP, Dst: hdr.Src, Group: hdr.Group}))
	rsp[4], rsp[5] = 0x01, 0x02
	raw.send(rsp)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatalf("response not delivered")
	}
	require.Equal(t, []byte{0x01, 0x02}, got)
}

func TestUnknownGroupCommandEchoesNotFound(t *testing.T) {
	a, raw := startRaw(t, NewGroup("diag"))
	pkt := make([]byte, frame.HeaderLen)
	require.NoError(t, frame.EncodeHeader(pkt, frame.Header{Type: frame.TypeCMD, Src: 4, ID: 1, Dst: frame.NoContext, Group: 9}))
	raw.send(pkt)

	echo := raw.next()
	hdr, err := frame.DecodeHeader(echo)
	require.NoError(t, err)
	require.Equal(t, frame.TypeERR, hdr.Type)
	require.Equal(t, uint8(4), hdr.Dst)
	code, err := frame.DecodeErrCode(echo[frame.HeaderLen:])
	require.NoError(t, err)
	require.Equal(t, int32(protocol.CodeNotFound), code)
	require.Eventually(t, func() bool { return a.rec.count(SourceRecv) == 1 }, waitFor, time.Millisecond)
}
