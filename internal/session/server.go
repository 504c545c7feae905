package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aetherlabs/relftp/internal/cc"
	"github.com/aetherlabs/relftp/internal/digest"
	"github.com/aetherlabs/relftp/internal/metrics"
	"github.com/aetherlabs/relftp/internal/reliability"
	"github.com/aetherlabs/relftp/internal/storage"
	"github.com/aetherlabs/relftp/internal/tracing"
	"github.com/aetherlabs/relftp/internal/transport"
)

// controlReadBufferSize bounds a single control-channel datagram; the
// original server reads into a 2048-byte buffer.
const controlReadBufferSize = 2048

// Server is relftpd's control-channel loop: it accepts bootstrap requests,
// opens an ephemeral data port per transfer, and dispatches the
// corresponding sender or receiver in its own goroutine, mirroring the
// original FTPserver.serverCycle/handle split.
type Server struct {
	control *net.UDPConn
	storage *storage.Root
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  *tracing.Tracer

	wg sync.WaitGroup
}

// New binds the control-channel listener on host:port.
func New(host string, port int, storageRoot *storage.Root, logger *zap.Logger, m *metrics.Metrics, tracer *tracing.Tracer) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("session: resolve control address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: listen control: %w", err)
	}
	return &Server{control: conn, storage: storageRoot, logger: logger, metrics: m, tracer: tracer}, nil
}

// Addr returns the control channel's bound local address.
func (s *Server) Addr() *net.UDPAddr {
	return s.control.LocalAddr().(*net.UDPAddr)
}

// Serve runs the accept loop until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("relftpd: listening", zap.String("addr", s.control.LocalAddr().String()))

	buf := make([]byte, controlReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return s.control.Close()
		default:
		}

		_ = s.control.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, clientAddr, err := s.control.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.logger.Warn("relftpd: control read failed", zap.Error(err))
			continue
		}

		var req Request
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			s.logger.Debug("relftpd: malformed control message, ignored", zap.Error(err))
			continue
		}

		dataConn, err := transport.Listen(":0")
		if err != nil {
			s.logger.Error("relftpd: failed to open data port", zap.Error(err))
			continue
		}

		s.logger.Info("relftpd: accepted request",
			zap.String("cmd", req.Cmd), zap.String("arq", req.Arq), zap.String("cc", req.CC),
			zap.Int("dataPort", dataConn.LocalAddr().Port))

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, req, dataConn, clientAddr)
		}()
	}
}

func (s *Server) reply(addr *net.UDPAddr, resp Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("relftpd: encode response failed", zap.Error(err))
		return
	}
	if _, err := s.control.WriteToUDP(body, addr); err != nil {
		s.logger.Warn("relftpd: send response failed", zap.Error(err))
	}
}

func (s *Server) handle(ctx context.Context, req Request, dataConn *transport.Conn, clientAddr *net.UDPAddr) {
	defer dataConn.Close()

	transferID := uuid.NewString()
	logger := s.logger.With(zap.String("transfer_id", transferID))
	if s.metrics != nil {
		s.metrics.ActiveTransfers.Inc()
		defer s.metrics.ActiveTransfers.Dec()
	}

	operation := "unknown"
	switch {
	case IsUpload(req.Cmd):
		operation = "upload"
	case IsDownload(req.Cmd):
		operation = "download"
	}

	ctx, transferSpan := s.tracer.StartTransfer(ctx, operation, transferID)
	defer transferSpan.End()

	_, bootstrapSpan := s.tracer.StartPhase(ctx, "bootstrap")
	s.reply(clientAddr, Response{Status: StatusOK, DataPort: dataConn.LocalAddr().Port})
	bootstrapSpan.End()

	switch operation {
	case "upload":
		s.handleUpload(ctx, req, dataConn, clientAddr, transferID, logger)
	case "download":
		s.handleDownload(ctx, req, dataConn, clientAddr, transferID, logger)
	default:
		logger.Warn("relftpd: unknown command", zap.String("cmd", req.Cmd))
		s.reply(clientAddr, Response{Status: StatusError, Why: "unknown command"})
	}
}

func (s *Server) handleUpload(ctx context.Context, req Request, dataConn *transport.Conn, clientAddr *net.UDPAddr, transferID string, logger *zap.Logger) {
	path, err := s.storage.Resolve(req.RemoteName)
	if err != nil {
		s.reply(clientAddr, Response{Status: StatusError, Why: err.Error()})
		return
	}

	ctx, span := s.tracer.StartPhase(ctx, "data-transfer")
	defer span.End()

	var out bytes.Buffer
	arq := reliability.ARQMode(req.Arq)
	var recvErr error
	if arq == reliability.ARQSelective {
		_, recvErr = reliability.NewSRReceiver(dataConn, logger).Receive(ctx, &out)
	} else {
		_, recvErr = reliability.NewGBNReceiver(dataConn, logger).Receive(ctx, &out)
	}
	if recvErr != nil {
		logger.Error("relftpd: upload receive failed", zap.Error(recvErr))
		s.reply(clientAddr, Response{Status: StatusError, Why: recvErr.Error()})
		return
	}

	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		logger.Error("relftpd: failed to persist upload", zap.Error(err))
		s.reply(clientAddr, Response{Status: StatusError, Why: err.Error()})
		return
	}

	sum, err := digest.File(bytes.NewReader(out.Bytes()))
	if err != nil {
		logger.Error("relftpd: digest failed", zap.Error(err))
		s.reply(clientAddr, Response{Status: StatusError, Why: err.Error()})
		return
	}

	logger.Info("relftpd: upload complete", zap.String("path", path), zap.String("md5", sum))
	if s.metrics != nil {
		s.metrics.TransfersTotal.WithLabelValues("upload", "ok").Inc()
	}
	s.reply(clientAddr, Response{Status: StatusDone, MD5: sum})
}

func (s *Server) handleDownload(ctx context.Context, req Request, dataConn *transport.Conn, clientAddr *net.UDPAddr, transferID string, logger *zap.Logger) {
	path, err := s.storage.Resolve(req.RemoteName)
	if err != nil || !storage.Exists(path) {
		logger.Info("relftpd: download of missing file", zap.String("remoteName", req.RemoteName))
		s.reply(clientAddr, Response{Status: StatusError, Why: "file not exist"})
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.reply(clientAddr, Response{Status: StatusError, Why: err.Error()})
		return
	}

	ctx, span := s.tracer.StartPhase(ctx, "data-transfer")
	defer span.End()

	pktSize := req.PktSize
	if pktSize <= 0 {
		pktSize = 1024
	}
	maxWin := req.MaxWin
	if maxWin <= 0 {
		maxWin = 64
	}

	ctl := cc.New(cc.Mode(req.CC))
	arq := reliability.ARQMode(req.Arq)
	var metricsOut reliability.Metrics
	var sendErr error
	if arq == reliability.ARQSelective {
		metricsOut, sendErr = reliability.NewSRSender(dataConn, clientAddr, ctl, maxWin, logger).WithMetrics(s.metrics, transferID).Send(ctx, data, pktSize)
	} else {
		metricsOut, sendErr = reliability.NewGBNSender(dataConn, clientAddr, ctl, maxWin, logger).WithMetrics(s.metrics, transferID).Send(ctx, data, pktSize)
	}
	if sendErr != nil {
		logger.Error("relftpd: download send failed", zap.Error(sendErr))
		s.reply(clientAddr, Response{Status: StatusError, Why: sendErr.Error()})
		return
	}

	sum, err := digest.File(bytes.NewReader(data))
	if err != nil {
		s.reply(clientAddr, Response{Status: StatusError, Why: err.Error()})
		return
	}

	logger.Info("relftpd: download complete",
		zap.String("path", path), zap.String("md5", sum),
		zap.Float64("goodput_mbps", metricsOut.GoodputMbps), zap.Float64("utilization", metricsOut.Utilization))
	if s.metrics != nil {
		s.metrics.TransfersTotal.WithLabelValues("download", "ok").Inc()
		s.metrics.GoodputMbps.WithLabelValues(transferID).Set(metricsOut.GoodputMbps)
		s.metrics.Utilization.WithLabelValues(transferID).Set(metricsOut.Utilization)
	}
	s.reply(clientAddr, Response{Status: StatusDone, MD5: sum})
}
