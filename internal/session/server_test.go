package session

import (
	"bytes"
	"context"
	"net"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aetherlabs/relftp/internal/cc"
	"github.com/aetherlabs/relftp/internal/config"
	"github.com/aetherlabs/relftp/internal/metrics"
	"github.com/aetherlabs/relftp/internal/reliability"
	"github.com/aetherlabs/relftp/internal/storage"
	"github.com/aetherlabs/relftp/internal/tracing"
	"github.com/aetherlabs/relftp/internal/transport"
)

func newTestServer(t *testing.T) (*Server, *storage.Root, func()) {
	t.Helper()

	root, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	logger := zap.NewNop()
	m := metrics.New("relftp_test", "server")
	tracer, err := tracing.New(config.TracingConfig{Enable: false}, logger)
	if err != nil {
		t.Fatalf("tracing.New: %v", err)
	}

	srv, err := New("127.0.0.1", 0, root, logger, m, tracer)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()

	return srv, root, func() {
		cancel()
		<-done
	}
}

// TestDownloadMissingFileRepliesErrorWithoutDataPort exercises scenario S6:
// a download request naming a remoteName the server has never stored must
// surface as a control-channel {status:error, why:"file not exist"} reply,
// never as a hang waiting for data that is never sent.
func TestDownloadMissingFileRepliesErrorWithoutDataPort(t *testing.T) {
	srv, _, stop := newTestServer(t)
	defer stop()

	clientConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer clientConn.Close()

	req := Request{
		Cmd:        "download nonexistent.bin",
		Arq:        "gbn",
		CC:         "reno",
		RemoteName: "nonexistent.bin",
		PktSize:    1024,
		MaxWin:     64,
	}

	negotiateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := Negotiate(negotiateCtx, clientConn, srv.Addr(), req)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if resp.Status != StatusOK {
		t.Fatalf("expected bootstrap ok, got %+v", resp)
	}

	doneCtx, cancelDone := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelDone()
	final, err := AwaitDone(doneCtx, clientConn)
	if err != nil {
		t.Fatalf("AwaitDone: %v", err)
	}
	if final.Status != StatusError || final.Why != "file not exist" {
		t.Fatalf("expected {status:error, why:file not exist}, got %+v", final)
	}

	// No file must ever have been created for this remoteName.
	path, _ := srv.storage.Resolve("nonexistent.bin")
	if storage.Exists(path) {
		t.Fatalf("missing-file download must not create %s", path)
	}
}

// TestUploadThenDownloadRoundTrip drives a real upload over loopback UDP
// through the server's GBN receiver, then downloads the same remoteName
// back through the server's GBN sender, checking both legs' reported md5
// and the persisted bytes on disk.
func TestUploadThenDownloadRoundTrip(t *testing.T) {
	srv, root, stop := newTestServer(t)
	defer stop()

	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 20)

	// --- upload ---
	uploadControl, err := net.ListenUDP("udp", nil)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer uploadControl.Close()

	uploadReq := Request{
		Cmd:        "upload local.bin",
		Arq:        "gbn",
		CC:         "reno",
		RemoteName: "stored.bin",
		PktSize:    32,
		MaxWin:     8,
	}
	negotiateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	resp, err := Negotiate(negotiateCtx, uploadControl, srv.Addr(), uploadReq)
	cancel()
	if err != nil || resp.Status != StatusOK {
		t.Fatalf("upload negotiate failed: resp=%+v err=%v", resp, err)
	}

	uploadData, err := transport.Listen(":0")
	if err != nil {
		t.Fatalf("transport.Listen: %v", err)
	}
	defer uploadData.Close()
	serverDataAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: resp.DataPort}

	sendCtx, cancelSend := context.WithTimeout(context.Background(), 5*time.Second)
	_, err = reliability.NewGBNSender(uploadData, serverDataAddr, cc.New(cc.ModeReno), 8, zap.NewNop()).
		Send(sendCtx, payload, 32)
	cancelSend()
	if err != nil {
		t.Fatalf("upload send: %v", err)
	}

	uploadDoneCtx, cancelUploadDone := context.WithTimeout(context.Background(), 5*time.Second)
	uploadFinal, err := AwaitDone(uploadDoneCtx, uploadControl)
	cancelUploadDone()
	if err != nil || uploadFinal.Status != StatusDone {
		t.Fatalf("upload did not complete: resp=%+v err=%v", uploadFinal, err)
	}

	storedPath, err := root.Resolve("stored.bin")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	onDisk, err := os.ReadFile(storedPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(onDisk, payload) {
		t.Fatalf("persisted file does not match uploaded payload")
	}

	// --- download the same remoteName back ---
	downloadControl, err := net.ListenUDP("udp", nil)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer downloadControl.Close()

	downloadReq := Request{
		Cmd:        "download stored.bin",
		Arq:        "gbn",
		CC:         "reno",
		RemoteName: "stored.bin",
		PktSize:    32,
		MaxWin:     8,
	}
	negotiateCtx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	resp2, err := Negotiate(negotiateCtx2, downloadControl, srv.Addr(), downloadReq)
	cancel2()
	if err != nil || resp2.Status != StatusOK {
		t.Fatalf("download negotiate failed: resp=%+v err=%v", resp2, err)
	}

	downloadData, err := transport.Listen(":0")
	if err != nil {
		t.Fatalf("transport.Listen: %v", err)
	}
	defer downloadData.Close()

	var received bytes.Buffer
	recvCtx, cancelRecv := context.WithTimeout(context.Background(), 5*time.Second)
	_, err = reliability.NewGBNReceiver(downloadData, zap.NewNop()).Receive(recvCtx, &received)
	cancelRecv()
	if err != nil {
		t.Fatalf("download receive: %v", err)
	}

	downloadDoneCtx, cancelDownloadDone := context.WithTimeout(context.Background(), 5*time.Second)
	downloadFinal, err := AwaitDone(downloadDoneCtx, downloadControl)
	cancelDownloadDone()
	if err != nil || downloadFinal.Status != StatusDone {
		t.Fatalf("download did not complete: resp=%+v err=%v", downloadFinal, err)
	}
	if downloadFinal.MD5 != uploadFinal.MD5 {
		t.Fatalf("download md5 %s does not match upload md5 %s", downloadFinal.MD5, uploadFinal.MD5)
	}
	if !bytes.Equal(received.Bytes(), payload) {
		t.Fatalf("downloaded bytes do not match original payload")
	}
}
