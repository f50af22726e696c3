package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Strata/internal/container"
	"Strata/internal/localstore"
	"Strata/internal/metrics"
	"Strata/internal/netmap"
	"Strata/internal/object"
	"Strata/internal/objectsvc"
)

const (
	// maxObjectSize is the largest payload accepted by POST /objects.
	maxObjectSize = 32 << 20

	// maxJSONSize bounds JSON request bodies.
	maxJSONSize = 1 << 20

	// defaultListLimit is the page size of GET /local/objects.
	defaultListLimit = 1000
)

// ObjectService distributes objects across their placement.
type ObjectService interface {
	Put(ctx context.Context, obj *object.Object) (*objectsvc.PutResult, error)
	Get(ctx context.Context, addr object.Address) (*object.Object, error)
	Head(ctx context.Context, addr object.Address) (*object.Header, error)
	Delete(ctx context.Context, addr object.Address, owner [32]byte) (*objectsvc.PutResult, error)
}

// NetMaps exposes the current network map and accepts new epochs.
type NetMaps interface {
	Current() (*netmap.NetMap, error)
	Announce(nm *netmap.NetMap) error
}

// Containers creates and resolves containers.
type Containers interface {
	Create(c *container.Container) (object.ContainerID, error)
	Get(id object.ContainerID) (*container.Container, error)
}

// LocalStore is the node's own object store.
type LocalStore interface {
	Select(f localstore.Filter) ([]object.Address, error)
	Delete(addr object.Address) error
}

// StatusProvider reports the node summary.
type StatusProvider interface {
	Status() Status
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Objects    ObjectService
	NetMaps    NetMaps
	Containers Containers
	Local      LocalStore
	Status     StatusProvider
	Logger     *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	addr   string       // addr is the HTTP listen address
	deps   Deps         // deps serve the routes
	log    *slog.Logger // log receives request errors
	server *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "api")
	}

	return &Server{addr: addr, deps: deps, log: deps.Logger}
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /netmap", s.handleGetNetMap)
	mux.HandleFunc("POST /netmap", s.handleAnnounceNetMap)

	mux.HandleFunc("POST /containers", s.handleCreateContainer)
	mux.HandleFunc("GET /containers/{cid}", s.handleGetContainer)

	mux.HandleFunc("POST /objects/{cid}", s.handlePutObject)
	mux.HandleFunc("GET /objects/{cid}/{oid}", s.handleGetObject)
	mux.HandleFunc("GET /objects/{cid}/{oid}/header", s.handleHeadObject)
	mux.HandleFunc("DELETE /objects/{cid}/{oid}", s.handleDeleteObject)

	mux.HandleFunc("GET /local/objects", s.handleListLocal)
	mux.HandleFunc("DELETE /local/objects/{cid}/{oid}", s.handleDropLocal)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		s.log.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Status.Status())
}

func (s *Server) handleGetNetMap(w http.ResponseWriter, r *http.Request) {
	nm, err := s.deps.NetMaps.Current()
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, NetMapView(nm))
}

// handleAnnounceNetMap stores the next epoch's map and spreads it to peers.
func (s *Server) handleAnnounceNetMap(w http.ResponseWriter, r *http.Request) {
	var body NetMap
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	nm, err := body.ToNetMap()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.NetMaps.Announce(nm); err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]uint64{"epoch": nm.Epoch})
}

func (s *Server) handleCreateContainer(w http.ResponseWriter, r *http.Request) {
	var body CreateContainer
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner, err := parseOwner(body.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	policy, err := netmap.ParsePolicy(body.Policy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	epoch := uint64(0)
	if s.deps.Status != nil {
		epoch = s.deps.Status.Status().Epoch
	}

	cnr := container.New(owner, body.Name, policy, epoch)
	if _, err := s.deps.Containers.Create(cnr); err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ContainerView(cnr))
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	cid, err := object.ParseContainerID(r.PathValue("cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cnr, err := s.deps.Containers.Get(cid)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ContainerView(cnr))
}

// handlePutObject stores the request body as a new object. The owner comes
// from the "owner" query parameter and attributes from repeated
// "attr=key=value" parameters.
func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	cid, err := object.ParseContainerID(r.PathValue("cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()

	owner, err := parseOwner(q.Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var attrs []object.Attribute
	for _, kv := range q["attr"] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid attribute %q", kv))
			return
		}
		attrs = append(attrs, object.Attribute{Key: k, Value: v})
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxObjectSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(payload) > maxObjectSize {
		writeError(w, http.StatusRequestEntityTooLarge, "object too large")
		return
	}

	epoch := uint64(0)
	if s.deps.Status != nil {
		epoch = s.deps.Status.Status().Epoch
	}

	res, err := s.deps.Objects.Put(r.Context(), object.New(cid, owner, payload, epoch, attrs...))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, PutResultView(res))
}

// handleGetObject streams the payload; the header travels in X-Object-* fields.
func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	obj, err := s.deps.Objects.Get(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Object-Type", obj.Header.Type.String())
	w.Header().Set("X-Object-Epoch", strconv.FormatUint(obj.Header.CreatedEpoch, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Payload)
}

func (s *Server) handleHeadObject(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	h, err := s.deps.Objects.Head(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HeaderView(h))
}

// handleDeleteObject places a tombstone for the object.
func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	owner, err := parseOwner(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Objects.Delete(r.Context(), addr, owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PutResultView(res))
}

// handleListLocal pages through the local store with "container", "after"
// and "limit" query parameters.
func (s *Server) handleListLocal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := localstore.Filter{Limit: defaultListLimit}

	if v := q.Get("container"); v != "" {
		cid, err := object.ParseContainerID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Container = &cid
	}

	if v := q.Get("after"); v != "" {
		after, err := object.ParseAddress(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.After = &after
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		f.Limit = n
	}

	addrs, err := s.deps.Local.Select(f)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	page := LocalObjects{Addresses: make([]string, len(addrs))}
	for i, a := range addrs {
		page.Addresses[i] = a.String()
	}
	if len(addrs) == f.Limit {
		page.Next = addrs[len(addrs)-1].String()
	}

	writeJSON(w, http.StatusOK, page)
}

// handleDropLocal removes this node's copy without burying the address.
func (s *Server) handleDropLocal(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	if err := s.deps.Local.Delete(addr); err != nil {
		s.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// fail maps err to a status code and logs server side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	writeError(w, status, err.Error())
}

func statusCode(err error) int {
	var parseErr *netmap.ParseError

	switch {
	case errors.Is(err, objectsvc.ErrNotFound),
		errors.Is(err, localstore.ErrNotFound),
		errors.Is(err, container.ErrNotFound),
		errors.Is(err, netmap.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, objectsvc.ErrRemoved),
		errors.Is(err, localstore.ErrAlreadyRemoved):
		return http.StatusGone
	case errors.Is(err, netmap.ErrStaleEpoch):
		return http.StatusConflict
	case errors.Is(err, object.ErrInvalidObject),
		errors.Is(err, object.ErrInvalidID),
		errors.Is(err, container.ErrInvalid),
		errors.Is(err, netmap.ErrInvalidPolicy),
		errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.Is(err, objectsvc.ErrIncompletePlacement):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pathAddress(w http.ResponseWriter, r *http.Request) (object.Address, bool) {
	cid, err := object.ParseContainerID(r.PathValue("cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return object.Address{}, false
	}

	oid, err := object.ParseID(r.PathValue("oid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return object.Address{}, false
	}

	return object.Address{Container: cid, Object: oid}, true
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONSize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json body: %v", err)
	}

	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
