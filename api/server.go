// Package api exposes the relay over HTTP: the blob write endpoint, the
// health probe and the Prometheus metrics scrape. It owns request framing
// and validation only; everything behind it speaks the fault taxonomy, which
// maps one-to-one onto HTTP statuses here.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/blobrelay/blobrelay/fault"
	"github.com/blobrelay/blobrelay/jobs"
	"github.com/blobrelay/blobrelay/log"
	"github.com/blobrelay/blobrelay/metrics"
	"github.com/blobrelay/blobrelay/txblob"
)

// maxBodyBytes bounds the write request body: a full blob base64-encoded
// plus JSON framing fits comfortably under 256 KiB.
const maxBodyBytes = 256 << 10

// shutdownGrace is how long Stop waits for in-flight requests to drain.
const shutdownGrace = 10 * time.Second

// Coordinator is the job surface the server fronts. *jobs.Coordinator
// implements it.
type Coordinator interface {
	SubmitJob(ctx context.Context, req *jobs.Request) (*txblob.Receipt, error)
	Health() jobs.Health
}

// Server is the HTTP front end. It satisfies the node Service interface.
type Server struct {
	addr   string
	coord  Coordinator
	srv    *http.Server
	ln     net.Listener
	logger *log.Logger
}

// NewServer builds a server listening on addr once started.
func NewServer(addr string, coord Coordinator, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{addr: addr, coord: coord, logger: logger.Module("api")}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Name implements the Service interface.
func (s *Server) Name() string { return "api" }

// Handler returns the route table. Exported so tests can drive it through
// httptest without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/blob/write", s.handleWrite)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	exporter := metrics.NewPrometheusExporter(metrics.DefaultRegistry, metrics.DefaultPrometheusConfig())
	mux.Handle("/metrics", exporter.Handler())
	return mux
}

// Start implements the Service interface. The listener is opened
// synchronously so bind errors fail startup.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server exited", "err", err)
		}
	}()
	s.logger.Info("api listening", "addr", ln.Addr().String())
	return nil
}

// Stop implements the Service interface: stop accepting, then drain.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// writeRequest is the JSON body of POST /api/v1/blob/write.
type writeRequest struct {
	JobID         string      `json:"jobId"`
	PaymentTxHash string      `json:"paymentTxHash"`
	Payload       string      `json:"payload"`
	Signature     string      `json:"signature"`
	Meta          txblob.Meta `json:"meta"`
}

// writeResponse is the success body. CompletionTxHash is empty at response
// time; the retry queue lands the completion call asynchronously.
type writeResponse struct {
	Success          bool     `json:"success"`
	BlobTxHash       string   `json:"blobTxHash"`
	BlockNumber      uint64   `json:"blockNumber"`
	BlobHash         string   `json:"blobHash"`
	Commitment       string   `json:"commitment"`
	Proofs           []string `json:"proofs"`
	BlobIndex        uint64   `json:"blobIndex"`
	CompletionTxHash string   `json:"completionTxHash"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	timer := metrics.NewTimer(metrics.RPCLatency)
	defer timer.Stop()
	metrics.RPCRequests.Inc()

	if r.Method != http.MethodPost {
		s.writeFault(w, fault.New(fault.ValidationFailed, "method %s not allowed", r.Method))
		return
	}
	var body writeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeFault(w, fault.Wrap(fault.ValidationFailed, err, "decoding request body"))
		return
	}
	req, err := parseWriteRequest(&body)
	if err != nil {
		s.writeFault(w, err)
		return
	}

	receipt, err := s.coord.SubmitJob(r.Context(), req)
	if err != nil {
		s.writeFault(w, err)
		return
	}

	resp := &writeResponse{
		Success:     true,
		BlobTxHash:  receipt.BlobTxHash.Hex(),
		BlockNumber: receipt.BlockNumber,
		BlobHash:    receipt.BlobVersionedHash.Hex(),
		Commitment:  hexutil.Encode(receipt.Commitment[:]),
		BlobIndex:   receipt.BlobIndex,
	}
	for _, p := range receipt.Proofs {
		resp.Proofs = append(resp.Proofs, hexutil.Encode(p[:]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeFault(w, fault.New(fault.ValidationFailed, "method %s not allowed", r.Method))
		return
	}
	h := s.coord.Health()
	s.writeJSON(w, http.StatusOK, &h)
}

// parseWriteRequest converts the wire body into a coordinator request,
// rejecting malformed ids and encodings before anything touches the chain.
func parseWriteRequest(body *writeRequest) (*jobs.Request, error) {
	jobID, err := parseHash(body.JobID)
	if err != nil {
		return nil, fault.Wrap(fault.ValidationFailed, err, "jobId")
	}
	paymentTxHash, err := parseHash(body.PaymentTxHash)
	if err != nil {
		return nil, fault.Wrap(fault.ValidationFailed, err, "paymentTxHash")
	}
	payload, err := base64.StdEncoding.DecodeString(body.Payload)
	if err != nil {
		return nil, fault.Wrap(fault.ValidationFailed, err, "payload is not valid base64")
	}
	sig, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		return nil, fault.Wrap(fault.ValidationFailed, err, "signature is not valid base64")
	}
	return &jobs.Request{
		JobID:         jobID,
		PaymentTxHash: paymentTxHash,
		Payload:       payload,
		Signature:     sig,
		Meta:          body.Meta,
	}, nil
}

func parseHash(s string) (common.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fault.New(fault.ValidationFailed, "expected 32 bytes, got %d", len(raw))
	}
	return common.BytesToHash(raw), nil
}

func (s *Server) writeFault(w http.ResponseWriter, err error) {
	metrics.RPCErrors.Inc()
	kind := fault.KindOf(err)
	var details string
	var fe *fault.Error
	if errors.As(err, &fe) {
		details = fe.Details
	}
	if kind == fault.Internal {
		s.logger.Error("request failed", "err", err)
	} else {
		s.logger.Debug("request rejected", "kind", kind, "err", err)
	}
	s.writeJSON(w, kind.HTTPStatus(), &errorResponse{
		Error:   kind.String(),
		Message: fault.TruncateMessage(err.Error()),
		Details: details,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", "err", err)
	}
}
