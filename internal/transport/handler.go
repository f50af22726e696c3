package transport

import (
	"errors"
	"fmt"
	"log/slog"

	"Strata/internal/attest"
	"Strata/internal/localstore"
	"Strata/internal/metrics"
	"Strata/internal/network"
	"Strata/internal/object"
	"Strata/internal/types"
)

// LocalStorage is the part of the local object store the handler serves.
type LocalStorage interface {
	Put(obj *object.Object) error
	Get(addr object.Address) (*object.Object, error)
	Head(addr object.Address) (*object.Header, error)
}

// Handler answers head, put and get requests from other nodes.
// Head and put answers carry a BLS attestation by the local node.
type Handler struct {
	store LocalStorage         // store holds the local replicas
	key   *attest.KeyPair      // key signs attestations
	log   *slog.Logger         // log is the component logger
	onPut func(*object.Object) // onPut is called after a successful remote put
}

// NewHandler creates a request handler over store.
func NewHandler(store LocalStorage, key *attest.KeyPair, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default().With("component", "transport")
	}

	return &Handler{store: store, key: key, log: log}
}

// OnPut registers a callback for objects stored on behalf of peers.
func (h *Handler) OnPut(fn func(*object.Object)) {
	h.onPut = fn
}

// HandleRequest is a network.Node request handler.
func (h *Handler) HandleRequest(_ *network.Peer, data []byte) ([]byte, error) {
	return h.Handle(data)
}

// Handle decodes and serves one request.
func (h *Handler) Handle(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("empty request")
	}

	msgType, body := data[0], data[1:]

	switch msgType {
	case msgHead:
		addr, err := decodeAddress(msgType, body)
		if err != nil {
			return nil, err
		}
		return h.head(addr), nil

	case msgGet:
		addr, err := decodeAddress(msgType, body)
		if err != nil {
			return nil, err
		}
		return h.get(addr), nil

	case msgPut:
		obj, err := decodePut(body)
		if err != nil {
			return encodePutResponse(types.StatusError, nil, err.Error()), nil
		}
		return h.put(obj), nil

	default:
		return nil, fmt.Errorf("unknown message type: 0x%02x", msgType)
	}
}

func (h *Handler) head(addr object.Address) []byte {
	hdr, err := h.store.Head(addr)
	status := statusOf(err)
	countRequest(msgHead, status)

	if status != types.StatusOk {
		return encodeHeadResponse(status, nil, nil, errMessage(err))
	}

	return encodeHeadResponse(status, hdr, h.key.Attest(addr, hdr.PayloadHash), "")
}

func (h *Handler) get(addr object.Address) []byte {
	obj, err := h.store.Get(addr)
	status := statusOf(err)
	countRequest(msgGet, status)

	if status != types.StatusOk {
		return encodeGetResponse(status, nil, errMessage(err))
	}

	return encodeGetResponse(status, obj, "")
}

func (h *Handler) put(obj *object.Object) []byte {
	addr := obj.Address()

	err := h.store.Put(obj)
	status := statusOf(err)
	countRequest(msgPut, status)

	if status != types.StatusOk {
		h.log.Debug("remote put rejected", "address", addr, "error", err)
		return encodePutResponse(status, nil, errMessage(err))
	}

	if h.onPut != nil {
		h.onPut(obj)
	}

	return encodePutResponse(status, h.key.Attest(addr, obj.Header.PayloadHash), "")
}

// statusOf maps local storage errors to wire statuses.
func statusOf(err error) types.Status {
	switch {
	case err == nil:
		return types.StatusOk
	case errors.Is(err, localstore.ErrNotFound):
		return types.StatusNotFound
	case errors.Is(err, localstore.ErrAlreadyRemoved):
		return types.StatusRemoved
	default:
		return types.StatusError
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func countRequest(msgType byte, status types.Status) {
	metrics.TransportRequests.WithLabelValues(msgName(msgType), status.String()).Inc()
}
