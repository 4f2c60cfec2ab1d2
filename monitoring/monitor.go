// Package monitoring serves a parsed trace over HTTP so that it can be
// inspected from a browser.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/tracetree/monitoring/web"
	"github.com/sarchlab/tracetree/traceevent"
	"github.com/sarchlab/tracetree/traceparser"
	"github.com/sarchlab/tracetree/tracetree"
)

// Monitor turns a parse result into a web server.
type Monitor struct {
	lock       sync.RWMutex
	result     *traceparser.Result
	portNumber int
	log        logrus.FieldLogger

	server   *http.Server
	listener net.Listener
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	discard := logrus.New()
	discard.Out = io.Discard

	return &Monitor{log: discard}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// not allowed; a random port is used instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.Warnf("port number %d is not allowed, using a random port",
			portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger.
func (m *Monitor) WithLogger(log logrus.FieldLogger) *Monitor {
	m.log = log
	return m
}

// RegisterResult sets the parse result to serve. It may be replaced while
// the server runs.
func (m *Monitor) RegisterResult(res *traceparser.Result) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.result = res
}

// Router returns the handler serving the API and the web pages.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/stats", m.stats)
	r.HandleFunc("/api/threads", m.listThreads)
	r.HandleFunc("/api/roots", m.listRoots)
	r.HandleFunc("/api/node/{id:[0-9]+}", m.nodeDetails)
	r.HandleFunc("/api/node/{id:[0-9]+}/fields", m.nodeFields)
	r.HandleFunc("/api/user_timing", m.listUserTiming)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// server.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", errors.Wrap(err, "starting monitoring server")
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	m.log.WithField("url", url).Info("monitoring server started")

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.WithError(err).Error("monitoring server stopped")
		}
	}()

	return url, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) currentResult(w http.ResponseWriter) *traceparser.Result {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.result == nil {
		http.Error(w, "no trace loaded", http.StatusServiceUnavailable)
	}

	return m.result
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		m.log.WithError(err).Error("encoding response")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(b); err != nil {
		m.log.WithError(err).Debug("writing response")
	}
}

func (m *Monitor) stats(w http.ResponseWriter, _ *http.Request) {
	res := m.currentResult(w)
	if res == nil {
		return
	}

	rsp := struct {
		traceparser.Stats
		Nodes      int    `json:"nodes"`
		Roots      int    `json:"roots"`
		Threads    int    `json:"threads"`
		MainThread string `json:"main_thread"`
		Error      string `json:"error,omitempty"`
	}{
		Stats:      res.Stats,
		Nodes:      res.Forest.Len(),
		Roots:      len(res.Forest.Roots()),
		Threads:    len(res.Threads),
		MainThread: string(res.MainThread),
	}

	if res.Err != nil {
		rsp.Error = res.Err.Error()
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) listThreads(w http.ResponseWriter, _ *http.Request) {
	res := m.currentResult(w)
	if res == nil {
		return
	}

	m.writeJSON(w, res.Threads)
}

type nodeRsp struct {
	ID        tracetree.NodeID     `json:"id"`
	Name      string               `json:"name"`
	Category  string               `json:"category"`
	Thread    traceevent.ThreadKey `json:"thread_key"`
	ThreadID  int                  `json:"thread"`
	Start     int64                `json:"start"`
	End       int64                `json:"end"`
	Closed    bool                 `json:"closed"`
	Discarded bool                 `json:"discarded"`
	Children  []tracetree.NodeID   `json:"children"`
	Record    *traceevent.Record   `json:"record,omitempty"`
}

func makeNodeRsp(n *tracetree.Node, withRecord bool) nodeRsp {
	rsp := nodeRsp{
		ID:        n.ID,
		Name:      n.Name(),
		Category:  n.Record.Category(),
		Thread:    n.Thread,
		ThreadID:  n.ThreadID,
		Start:     n.Start,
		End:       n.End,
		Closed:    n.Closed,
		Discarded: n.Discarded,
		Children:  n.Children,
	}

	if rsp.Children == nil {
		rsp.Children = []tracetree.NodeID{}
	}

	if withRecord {
		rsp.Record = n.Record
	}

	return rsp
}

type rootsRsp struct {
	Total int       `json:"total"`
	Roots []nodeRsp `json:"roots"`
}

func (m *Monitor) listRoots(w http.ResponseWriter, r *http.Request) {
	res := m.currentResult(w)
	if res == nil {
		return
	}

	thread, limit, offset, err := rootsParseParams(r)
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	roots := res.Forest.Roots()
	if thread >= 0 {
		roots = res.Forest.RootsOfThread(thread)
	}

	rsp := rootsRsp{Total: len(roots), Roots: []nodeRsp{}}

	roots = roots[min(offset, len(roots)):]
	if limit > 0 {
		roots = roots[:min(limit, len(roots))]
	}

	for _, id := range roots {
		rsp.Roots = append(rsp.Roots, makeNodeRsp(res.Forest.Node(id), false))
	}

	m.writeJSON(w, rsp)
}

func rootsParseParams(r *http.Request) (thread, limit, offset int, err error) {
	parse := func(name string, def int) (int, error) {
		s := r.URL.Query().Get(name)
		if s == "" {
			return def, nil
		}

		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, errors.Errorf("invalid %s: %q", name, s)
		}

		if v < 0 {
			return 0, errors.Errorf("%s must not be negative", name)
		}

		return v, nil
	}

	if thread, err = parse("thread", -1); err != nil {
		return 0, 0, 0, err
	}

	if limit, err = parse("limit", 0); err != nil {
		return 0, 0, 0, err
	}

	if offset, err = parse("offset", 0); err != nil {
		return 0, 0, 0, err
	}

	return thread, limit, offset, nil
}

func (m *Monitor) findNodeOr404(
	w http.ResponseWriter,
	r *http.Request,
) *tracetree.Node {
	res := m.currentResult(w)
	if res == nil {
		return nil
	}

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || !res.Forest.Contains(tracetree.NodeID(id)) {
		http.Error(w, "Node not found", http.StatusNotFound)
		return nil
	}

	return res.Forest.Node(tracetree.NodeID(id))
}

func (m *Monitor) nodeDetails(w http.ResponseWriter, r *http.Request) {
	n := m.findNodeOr404(w, r)
	if n == nil {
		return
	}

	m.writeJSON(w, makeNodeRsp(n, true))
}

// nodeFields serializes the node with goseth. The optional "field" query
// parameter is a dot-separated path into the node, e.g. "Record".
func (m *Monitor) nodeFields(w http.ResponseWriter, r *http.Request) {
	n := m.findNodeOr404(w, r)
	if n == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(n)
	serializer.SetMaxDepth(1)

	if field := r.URL.Query().Get("field"); field != "" {
		err := serializer.SetEntryPoint(strings.Split(field, "."))
		if err != nil {
			http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	buf := bytes.NewBuffer(nil)
	if err := serializer.Serialize(buf); err != nil {
		m.log.WithError(err).Error("serializing node")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(buf.Bytes()); err != nil {
		m.log.WithError(err).Debug("writing response")
	}
}

func (m *Monitor) listUserTiming(w http.ResponseWriter, _ *http.Request) {
	res := m.currentResult(w)
	if res == nil {
		return
	}

	records, _ := res.UserTiming.Export()
	if records == nil {
		records = []*traceevent.Record{}
	}

	m.writeJSON(w, records)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	rsp, err := currentResources()
	if err != nil {
		m.log.WithError(err).Error("reading resource usage")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	m.writeJSON(w, rsp)
}

func currentResources() (resourceRsp, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return resourceRsp{}, err
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		return resourceRsp{}, err
	}

	memory, err := proc.MemoryInfo()
	if err != nil {
		return resourceRsp{}, err
	}

	return resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memory.RSS,
	}, nil
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.log.WithError(err).Error("parsing profile")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	m.writeJSON(w, prof)
}
