// Command relftp is the relftp client: it bootstraps a transfer over the
// control channel, then drives the negotiated sender or receiver over the
// ephemeral data port the server hands back (§6 "Operator surface").
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/aetherlabs/relftp/internal/cc"
	"github.com/aetherlabs/relftp/internal/digest"
	"github.com/aetherlabs/relftp/internal/reliability"
	"github.com/aetherlabs/relftp/internal/session"
	"github.com/aetherlabs/relftp/internal/transport"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: relftp --server HOST [--port 10000] [--arq gbn|sr] [--cc reno|vegas] [--pktSize 1024] [--maxWin 64] <upload|download> localPath remoteName")
}

func main() {
	flag.Usage = usage
	server := flag.String("server", "", "server host (required)")
	port := flag.Int("port", 10000, "server control port")
	arq := flag.String("arq", "gbn", "ARQ mode: gbn or sr")
	ccMode := flag.String("cc", "reno", "congestion control: reno or vegas")
	pktSize := flag.Int("pktSize", 1024, "payload bytes per packet")
	maxWin := flag.Int("maxWin", 64, "maximum congestion window, in packets")
	flag.Parse()

	if *server == "" || flag.NArg() != 3 {
		usage()
		os.Exit(2)
	}
	if *arq != "gbn" && *arq != "sr" {
		fmt.Fprintf(os.Stderr, "relftp: --arq must be gbn or sr\n")
		os.Exit(2)
	}
	if *ccMode != "reno" && *ccMode != "vegas" {
		fmt.Fprintf(os.Stderr, "relftp: --cc must be reno or vegas\n")
		os.Exit(2)
	}

	operation := flag.Arg(0)
	localPath := flag.Arg(1)
	remoteName := flag.Arg(2)
	if operation != "upload" && operation != "download" {
		usage()
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relftp: failed to build logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if operation == "upload" {
		if _, err := os.Stat(localPath); err != nil {
			fmt.Println("client: no such local file")
			os.Exit(1)
		}
	}

	req := session.Request{
		Arq:        *arq,
		CC:         *ccMode,
		RemoteName: remoteName,
		PktSize:    *pktSize,
		MaxWin:     *maxWin,
	}
	if operation == "upload" {
		req.Cmd = fmt.Sprintf("upload %s", filepath.Base(localPath))
	} else {
		req.Cmd = fmt.Sprintf("download %s", remoteName)
	}

	controlConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		logger.Error("relftp: failed to open control socket", zap.Error(err))
		os.Exit(2)
	}
	defer controlConn.Close()

	serverAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", *server, *port))
	if err != nil {
		logger.Error("relftp: failed to resolve server address", zap.Error(err))
		os.Exit(2)
	}

	negotiateCtx, cancelNegotiate := context.WithTimeout(context.Background(), session.DefaultControlTimeout)
	resp, err := session.Negotiate(negotiateCtx, controlConn, serverAddr, req)
	cancelNegotiate()
	if err != nil {
		logger.Error("relftp: bootstrap negotiation failed", zap.Error(err))
		os.Exit(2)
	}
	if resp.Status != session.StatusOK {
		fmt.Printf("client: failed to connect: %s\n", resp.Why)
		os.Exit(1)
	}

	dataConn, err := transport.Listen(":0")
	if err != nil {
		logger.Error("relftp: failed to open data socket", zap.Error(err))
		os.Exit(2)
	}
	defer dataConn.Close()
	dataAddr := &net.UDPAddr{IP: serverAddr.IP, Port: resp.DataPort}

	var ok bool
	if operation == "upload" {
		ok = runUpload(logger, dataConn, dataAddr, controlConn, localPath, *arq, *ccMode, *pktSize, *maxWin)
	} else {
		ok = runDownload(logger, dataConn, dataAddr, controlConn, localPath, *arq)
	}
	if !ok {
		os.Exit(1)
	}
}

func runUpload(logger *zap.Logger, dataConn *transport.Conn, dataAddr *net.UDPAddr, controlConn *net.UDPConn, localPath, arq, ccMode string, pktSize, maxWin int) bool {
	data, err := os.ReadFile(localPath)
	if err != nil {
		logger.Error("relftp: failed to read local file", zap.Error(err))
		return false
	}

	ctl := cc.New(cc.Mode(ccMode))
	ctx := context.Background()
	var sendErr error
	if reliability.ARQMode(arq) == reliability.ARQSelective {
		_, sendErr = reliability.NewSRSender(dataConn, dataAddr, ctl, maxWin, logger).Send(ctx, data, pktSize)
	} else {
		_, sendErr = reliability.NewGBNSender(dataConn, dataAddr, ctl, maxWin, logger).Send(ctx, data, pktSize)
	}
	if sendErr != nil {
		logger.Error("relftp: upload failed", zap.Error(sendErr))
		return false
	}

	doneCtx, cancel := context.WithTimeout(context.Background(), session.DefaultControlTimeout)
	defer cancel()
	resp, err := session.AwaitDone(doneCtx, controlConn)
	if err != nil {
		logger.Error("relftp: failed to read server confirmation", zap.Error(err))
		return false
	}
	if resp.Status != session.StatusDone {
		fmt.Printf("client: upload rejected: %s\n", resp.Why)
		return false
	}

	localMD5, err := digest.File(bytes.NewReader(data))
	if err != nil {
		logger.Error("relftp: failed to digest local file", zap.Error(err))
		return false
	}
	fmt.Printf("client: local MD5 = %s | server MD5 = %s\n", localMD5, resp.MD5)
	if !digest.Equal(localMD5, resp.MD5) {
		fmt.Println("upload failed, exiting")
		return false
	}
	fmt.Println("client: successfully upload")
	return true
}

// runDownload drives the receiver and the control-channel wait concurrently:
// a file-not-exist rejection arrives on the control channel before any data
// packet is ever sent, so waiting for the receiver to finish first would
// block forever.
func runDownload(logger *zap.Logger, dataConn *transport.Conn, dataAddr *net.UDPAddr, controlConn *net.UDPConn, localPath, arq string) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out bytes.Buffer
	recvErrCh := make(chan error, 1)
	go func() {
		var err error
		if reliability.ARQMode(arq) == reliability.ARQSelective {
			_, err = reliability.NewSRReceiver(dataConn, logger).Receive(ctx, &out)
		} else {
			_, err = reliability.NewGBNReceiver(dataConn, logger).Receive(ctx, &out)
		}
		recvErrCh <- err
	}()

	doneCtx, cancelDone := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancelDone()
	resp, err := session.AwaitDone(doneCtx, controlConn)
	if err != nil {
		cancel()
		<-recvErrCh
		logger.Error("relftp: failed to read server confirmation", zap.Error(err))
		return false
	}
	if resp.Status != session.StatusDone {
		cancel()
		<-recvErrCh
		fmt.Printf("client: failed to connect: %s\n", resp.Why)
		return false
	}

	if recvErr := <-recvErrCh; recvErr != nil {
		logger.Error("relftp: download failed", zap.Error(recvErr))
		return false
	}

	if err := os.WriteFile(localPath, out.Bytes(), 0o644); err != nil {
		logger.Error("relftp: failed to write local file", zap.Error(err))
		return false
	}

	localMD5, err := digest.File(bytes.NewReader(out.Bytes()))
	if err != nil {
		logger.Error("relftp: failed to digest local file", zap.Error(err))
		return false
	}
	fmt.Printf("client: local MD5 = %s | server MD5 = %s\n", localMD5, resp.MD5)
	if !digest.Equal(localMD5, resp.MD5) {
		fmt.Println("download failed, exiting")
		return false
	}
	fmt.Println("client: successfully download")
	return true
}
