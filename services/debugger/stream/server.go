// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stream implements the trainer-facing streaming protocol server.
//
// The server owns one training session's state: the graph store, the
// tensor cache, the watchpoint registry and hit recorder, the UI event
// queue and the command queue the trainer polls. All ingestion entry
// points are transport neutral; the websocket adapter in the handlers
// package frames them onto a connection.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/tensorwatch/services/debugger/condition"
	"github.com/AleutianAI/tensorwatch/services/debugger/derrors"
	"github.com/AleutianAI/tensorwatch/services/debugger/graph"
	"github.com/AleutianAI/tensorwatch/services/debugger/tensor"
	"github.com/AleutianAI/tensorwatch/services/debugger/watchpoint"
)

// Version is the debugger protocol version reported in the handshake.
const Version = "1.3.0"

// Config configures a stream server.
type Config struct {
	// Version is the server protocol version; empty uses the build default.
	Version string
	// EventQueueLimit bounds the UI data channel.
	EventQueueLimit int
	// CommandPollInterval bounds one blocking wait inside WaitCommand so
	// status changes are observed promptly.
	CommandPollInterval time.Duration
	// TensorCeilingBytes caps one reassembled tensor value; 0 uses the
	// cache default.
	TensorCeilingBytes int
	// OnHeartbeatMiss is called once per missed heartbeat period with the
	// consecutive miss count. Optional.
	OnHeartbeatMiss func(misses int)
	Logger          *slog.Logger
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = Version
	}
	if c.EventQueueLimit <= 0 {
		c.EventQueueLimit = defaultEventQueueLimit
	}
	if c.CommandPollInterval <= 0 {
		c.CommandPollInterval = 200 * time.Millisecond
	}
	if c.TensorCeilingBytes <= 0 {
		c.TensorCeilingBytes = tensor.MaxSingleTensorCacheBytes
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.Count(c.Version, ".") < 1 {
		return fmt.Errorf("invalid debugger version %q", c.Version)
	}
	return nil
}

// Metadata is the session state snapshot pushed to the UI.
type Metadata struct {
	State     string `json:"state"`
	Step      int    `json:"step"`
	Device    string `json:"device_name,omitempty"`
	Backend   string `json:"backend,omitempty"`
	NodeName  string `json:"node_name,omitempty"`
	GraphName string `json:"graph_name,omitempty"`
	ClientIP  string `json:"ip,omitempty"`
	ClientID  string `json:"client_id,omitempty"`

	// FullName is the backend name of the current node; internal only.
	FullName string `json:"-"`

	// DebuggerVersion holds the client and server protocol versions.
	DebuggerVersion map[string]string `json:"debugger_version,omitempty"`
}

// MetadataRequest is the trainer's handshake payload.
type MetadataRequest struct {
	Version      string `json:"version"`
	Device       string `json:"device_name"`
	Backend      string `json:"backend"`
	Step         int    `json:"cur_step"`
	CurNode      string `json:"cur_node"`
	ClientIP     string `json:"client_ip"`
	TrainingDone bool   `json:"training_done"`
}

// WaitRequest is the trainer's command poll payload.
type WaitRequest struct {
	Step    int    `json:"cur_step"`
	CurNode string `json:"cur_node"`
}

// oldRunState is the cached remainder of a multi-step or run-to-node
// command replayed across polls. Exactly one field is meaningful.
type oldRunState struct {
	// leftSteps counts remaining steps; -1 runs indefinitely.
	leftSteps int
	// nodeName is the run-to-node target.
	nodeName string
}

func (o *oldRunState) valid() bool {
	return (o.leftSteps != 0) != (o.nodeName != "")
}

// viewState tracks an outstanding view command so tensor arrival can be
// acknowledged to the UI exactly once.
type viewState struct {
	cmd           ViewCommand
	waitForTensor bool
}

// Server is the protocol server of one debugger session.
//
// Thread Safety: safe for concurrent use. Trainer ingestion calls and UI
// accessor calls may interleave freely.
type Server struct {
	cfg    Config
	logger *slog.Logger

	graphs  *graph.Store
	tensors *tensor.Cache
	reg     *watchpoint.Registry
	hits    *watchpoint.MultiRankRecorder

	events   *EventQueue
	commands *CommandQueue

	mu          sync.Mutex
	status      Status
	metadata    Metadata
	pos         int
	oldRun      *oldRunState
	view        *viewState
	pendingHits []watchpoint.Hit
	heartbeat   *HeartbeatListener
}

// NewServer builds a stream server with fresh session state.
func NewServer(cfg Config) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger.With(slog.String("component", "stream_server"))
	return &Server{
		cfg:      cfg,
		logger:   logger,
		graphs:   graph.NewStore(),
		tensors:  tensor.NewCache(cfg.Logger),
		reg:      watchpoint.NewRegistry(cfg.Logger),
		hits:     watchpoint.NewMultiRankRecorder(),
		events:   NewEventQueue(cfg.EventQueueLimit),
		commands: NewCommandQueue(),
		metadata: Metadata{State: StatusPending.String()},
	}, nil
}

// Graphs exposes the session's graph store.
func (s *Server) Graphs() *graph.Store { return s.graphs }

// Tensors exposes the session's tensor cache.
func (s *Server) Tensors() *tensor.Cache { return s.tensors }

// Watchpoints exposes the session's watchpoint registry.
func (s *Server) Watchpoints() *watchpoint.Registry { return s.reg }

// Hits exposes the session's hit recorder.
func (s *Server) Hits() *watchpoint.MultiRankRecorder { return s.hits }

// Events exposes the UI data channel.
func (s *Server) Events() *EventQueue { return s.events }

// Status returns the current lifecycle state.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Metadata returns a copy of the session metadata.
func (s *Server) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataLocked()
}

func (s *Server) metadataLocked() Metadata {
	md := s.metadata
	md.State = s.status.String()
	return md
}

func (s *Server) putMetadataEvent() {
	s.events.Put(Event{"metadata": s.metadataLocked()})
}

// PutCommand queues a UI command for the trainer poll loop.
func (s *Server) PutCommand(c Command) {
	s.commands.Put(c)
}

// QueueWatchpointCommands drains the registry's pending directives onto
// the command queue, typically right before a run command.
func (s *Server) QueueWatchpointCommands() {
	for _, cmd := range s.reg.PendingCommands() {
		sc := cmd
		s.commands.Put(Command{Set: &sc})
	}
}

// resetLocked reinitializes all session state for a fresh client. The
// registry is cleared in place, never replaced, so accessors may hold its
// pointer without s.mu.
func (s *Server) resetLocked() {
	s.graphs.Clear()
	s.tensors.Reset()
	s.reg.Reset()
	s.hits.Clean()
	s.commands.Clean()
	s.events.Clean()
	s.status = StatusPending
	s.metadata = Metadata{State: StatusPending.String()}
	s.oldRun = nil
	s.view = nil
	s.pendingHits = nil
}

// Stop shuts the server down, joining the heartbeat listener.
func (s *Server) Stop() {
	s.mu.Lock()
	hb := s.heartbeat
	s.heartbeat = nil
	s.mu.Unlock()
	if hb != nil {
		hb.Stop()
	}
	s.commands.Close()
	s.events.Close()
}

// SendMetadata handles the trainer handshake. A handshake on a non-pending
// session resets all state first. The version check compares major.minor;
// a mismatch parks the session in the terminal MISMATCH state.
func (s *Server) SendMetadata(req MetadataRequest) MetadataAck {
	s.logger.Info("received metadata", "client_ip", req.ClientIP, "training_done", req.TrainingDone)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPending {
		s.logger.Info("reinitializing session state for new client")
		s.resetLocked()
	}

	ack := MetadataAck{}
	if req.TrainingDone {
		s.logger.Info("training finished", "client_ip", req.ClientIP)
	} else {
		if versionMatched(req.Version, s.cfg.Version) {
			ack.VersionMatched = true
		} else {
			s.logger.Warn("protocol version mismatch",
				"client_version", req.Version, "server_version", s.cfg.Version)
			s.status = StatusMismatch
		}
		s.metadata.Step = req.Step
		s.metadata.FullName = req.CurNode
		s.metadata.Device = req.Device
		s.metadata.Backend = req.Backend
		s.metadata.ClientIP = req.ClientIP
		s.metadata.ClientID = uuid.NewString()
		s.metadata.DebuggerVersion = map[string]string{
			"client": req.Version,
			"server": s.cfg.Version,
		}
	}
	s.putMetadataEvent()
	return ack
}

// versionMatched reports whether two protocol versions agree on
// major.minor. The patch component never breaks the wire contract.
func versionMatched(client, server string) bool {
	return majorMinor(client) == majorMinor(server) && majorMinor(client) != ""
}

func majorMinor(v string) string {
	parts := strings.Split(v, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// SendGraph ingests a single sub-graph reassembled from chunks.
func (s *Server) SendGraph(chunks [][]byte) error {
	var buf []byte
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return s.ingestGraphs([][]byte{buf})
}

// GraphChunk is one frame of a multi-graph upload.
type GraphChunk struct {
	Buffer   []byte `json:"buffer"`
	Finished bool   `json:"finished"`
}

// SendMultiGraphs ingests several sub-graphs, each closed by a finished
// chunk.
func (s *Server) SendMultiGraphs(chunks []GraphChunk) error {
	var bufs [][]byte
	var cur []byte
	for _, c := range chunks {
		cur = append(cur, c.Buffer...)
		if c.Finished {
			bufs = append(bufs, cur)
			cur = nil
		}
	}
	return s.ingestGraphs(bufs)
}

func (s *Server) ingestGraphs(bufs [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oldRun != nil {
		s.logger.Info("graph arrival clears cached run command")
		s.oldRun = nil
	}
	if s.status == StatusMismatch {
		s.logger.Info("version mismatched, graph ignored")
		return nil
	}
	for _, buf := range bufs {
		d, err := graph.ParseDef(buf)
		if err != nil {
			return err
		}
		g := s.graphs.Put(d)
		s.logger.Debug("graph ingested", "graph", d.Name, "nodes", g.NodeCount())
		if s.metadata.GraphName == "" {
			s.metadata.GraphName = d.Name
		}
	}
	s.recordParameterNamesLocked()
	s.status = StatusReceiveGraph
	return nil
}

// recordParameterNamesLocked registers parameter tensors in the cache so
// their history survives step cleaning.
func (s *Server) recordParameterNamesLocked() {
	params := s.graphs.SearchByCategory(graph.CategoryParameter)
	names := make([]string, 0, len(params))
	for _, n := range params {
		names = append(names, n.FullName+":0")
	}
	s.tensors.RecordParameterNames(names)
}

// TensorChunk is one frame of a tensor value upload.
type TensorChunk struct {
	// Name is "full_name:slot".
	Name     string  `json:"name"`
	Dtype    string  `json:"dtype"`
	Shape    []int64 `json:"shape"`
	Content  []byte  `json:"content"`
	Finished bool    `json:"finished"`
}

// SendTensors ingests chunked tensor values. A value crossing the cache
// ceiling is stored without bytes and flagged oversized. It returns the
// number of values dropped that way.
func (s *Server) SendTensors(chunks []TensorChunk) int {
	s.mu.Lock()
	step := s.metadata.Step
	s.mu.Unlock()

	var content []byte
	dataSize := 0
	oversize := false
	dropped := 0
	for _, c := range chunks {
		dataSize += len(c.Content)
		if dataSize >= s.cfg.TensorCeilingBytes || oversize {
			oversize = true
			content = nil
		} else {
			content = append(content, c.Content...)
		}
		if !c.Finished {
			continue
		}
		if oversize {
			dropped++
		}
		usable := s.tensors.Put(tensor.Value{
			Name: c.Name,
			Step: step,
			Base: tensor.Base{
				Dtype:    c.Dtype,
				Shape:    c.Shape,
				DataSize: int64(dataSize),
			},
			Bytes:    content,
			Oversize: oversize,
		})
		s.updateViewState(usable)
		content = nil
		dataSize = 0
		oversize = false
	}
	return dropped
}

// TensorBaseRecord carries shape-level info for one requested tensor.
type TensorBaseRecord struct {
	Name string      `json:"name"`
	Base tensor.Base `json:"tensor_base"`
}

// SendTensorBase ingests shape-level records answering a base-level view
// command.
func (s *Server) SendTensorBase(records []TensorBaseRecord) {
	s.mu.Lock()
	step := s.metadata.Step
	s.mu.Unlock()
	updated := false
	for _, rec := range records {
		if s.tensors.PutBase(rec.Name, step, rec.Base) {
			updated = true
		}
	}
	s.updateViewState(updated)
}

// TensorStatsRecord carries summary statistics for one requested tensor.
type TensorStatsRecord struct {
	Name  string       `json:"name"`
	Base  tensor.Base  `json:"tensor_base"`
	Stats tensor.Stats `json:"tensor_stats"`
}

// SendTensorStats ingests statistics records answering a stats-level view
// command.
func (s *Server) SendTensorStats(records []TensorStatsRecord) {
	s.mu.Lock()
	step := s.metadata.Step
	s.mu.Unlock()
	updated := false
	for _, rec := range records {
		if s.tensors.PutStats(rec.Name, step, rec.Base, rec.Stats) {
			updated = true
		}
	}
	s.updateViewState(updated)
}

// updateViewState releases a pending view request once usable data landed.
func (s *Server) updateViewState(usable bool) {
	if !usable {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view != nil && s.view.waitForTensor {
		s.view.waitForTensor = false
	}
}

// HitReport is one raw watchpoint hit from the trainer, identified by
// backend node name and watchpoint id.
type HitReport struct {
	NodeFullName string `json:"node_name"`
	Slot         string `json:"slot"`
	WatchpointID int    `json:"watchpoint_id"`
	ErrorCode    int    `json:"error_code"`
	// ActualValues holds observed parameter values keyed by name.
	ActualValues map[string]float64 `json:"actual_values,omitempty"`
}

// hiddenActualParams never surface actual values on a hit.
var hiddenActualParams = map[string]bool{
	"rtol":                          true,
	condition.RangeStartParam:       true,
	condition.RangeEndParam:         true,
}

// SendWatchpointHits ingests hit reports. Reports naming nodes missing
// from the graph or unknown watchpoints are dropped with a log; accepted
// hits hold annotated deep copies of the watchpoint and are surfaced on
// the next command poll.
func (s *Server) SendWatchpointHits(reports []HitReport) {
	s.mu.Lock()
	s.oldRun = nil
	if s.status == StatusRunning {
		s.commands.Clean()
	}
	step := s.metadata.Step
	s.mu.Unlock()

	var accepted []watchpoint.Hit
	for _, rep := range reports {
		graphName := s.graphs.GraphIDByFullName(rep.NodeFullName)
		if graphName == "" {
			s.logger.Warn("hit report names unknown node, dropped", "node", rep.NodeFullName)
			continue
		}
		uiName := s.graphs.NodeNameByFullName(rep.NodeFullName, graphName)
		if uiName == "" {
			s.logger.Info("node not shown on graph, hit dropped", "node", rep.NodeFullName)
			continue
		}
		snap, err := s.reg.Snapshot(rep.WatchpointID)
		if err != nil {
			s.logger.Warn("hit report names unknown watchpoint, dropped",
				"watchpoint_id", rep.WatchpointID)
			continue
		}
		for i := range snap.Condition.Params {
			name := snap.Condition.Params[i].Name
			v, ok := rep.ActualValues[name]
			if ok && rep.ErrorCode == 0 && !hiddenActualParams[name] {
				snap.Condition.Params[i].ActualValue = v
			} else {
				snap.Condition.Params[i].ActualValue = nil
			}
		}
		accepted = append(accepted, watchpoint.Hit{
			Tensor: watchpoint.TensorRef{
				NodeName:  uiName,
				Slot:      rep.Slot,
				GraphName: graphName,
				Iteration: step,
			},
			Watchpoint: snap,
			ErrorCode:  rep.ErrorCode,
		})
	}

	s.mu.Lock()
	s.pendingHits = accepted
	s.mu.Unlock()
}

// SendHeartbeat registers a liveness signal, starting the listener on the
// first beat. The period must lie in [5, 3600] seconds.
func (s *Server) SendHeartbeat(period time.Duration) error {
	if period < 5*time.Second || period > 3600*time.Second {
		return derrors.New(derrors.CodeHeartbeatPeriod,
			"heartbeat period must be within [5, 3600] seconds")
	}
	s.mu.Lock()
	if s.heartbeat == nil || !s.heartbeat.Alive() {
		s.heartbeat = NewHeartbeatListener(period, s.heartbeatExpired, s.logger)
		s.heartbeat.OnMiss = s.cfg.OnHeartbeatMiss
		s.heartbeat.Start()
	}
	hb := s.heartbeat
	s.mu.Unlock()
	hb.Send()
	return nil
}

// heartbeatExpired resets the session when the trainer goes silent.
func (s *Server) heartbeatExpired() {
	s.logger.Warn("heartbeat lost, resetting session")
	s.mu.Lock()
	s.resetLocked()
	s.putMetadataEvent()
	s.mu.Unlock()
}

// WaitCommand is the trainer's poll for the next command. It reports new
// steps and nodes, replays the cached run remainder, and otherwise blocks
// until the UI queues a command, ctx expires, or the session leaves the
// waiting state.
func (s *Server) WaitCommand(ctx context.Context, req WaitRequest) Reply {
	s.logger.Debug("wait command", "cur_step", req.Step, "cur_node", req.CurNode)
	s.mu.Lock()
	if s.status == StatusPending {
		s.mu.Unlock()
		s.logger.Warn("no graph received before command poll")
		return Reply{Status: 1}
	}
	s.preProcessLocked(req)
	reply := s.dealWithOldCommandLocked()
	s.mu.Unlock()

	if reply == nil {
		reply = s.waitForNextCommand(ctx)
	}
	if reply == nil {
		s.logger.Warn("failed to get a command event")
		return Reply{Status: 1}
	}
	return *reply
}

func (s *Server) preProcessLocked(req WaitRequest) {
	if s.status == StatusMismatch {
		s.logger.Warn("version mismatched, waiting for user to terminate the script")
		s.putMetadataEvent()
		return
	}

	isNewStep := s.metadata.Step < req.Step
	isNewNode := s.metadata.FullName != req.CurNode
	if isNewStep || isNewNode {
		s.events.Clean()
		s.tensors.Clean(req.Step)
	}
	if isNewStep {
		if rec, ok := s.hits.Rank(0, false); ok {
			rec.Clean()
		}
	}
	if s.status == StatusReceiveGraph {
		s.sendGraphFlagLocked()
	}
	if isNewStep || isNewNode {
		s.updateMetadataLocked(req)
	}
	s.sendReceivedTensorTagLocked()
	s.drainPendingHitsLocked()
}

// sendGraphFlagLocked promotes the session to waiting and pushes the graph
// listing with fresh metadata.
func (s *Server) sendGraphFlagLocked() {
	s.commands.Clean()
	s.status = StatusWaiting
	s.events.Put(Event{
		"metadata":    s.metadataLocked(),
		"graph_names": s.graphs.GraphNames(),
	})
	s.logger.Debug("graph pushed to data queue")
}

func (s *Server) updateMetadataLocked(req WaitRequest) {
	s.metadata.Step = req.Step
	s.metadata.FullName = req.CurNode
	if req.CurNode != "" {
		graphName := s.graphs.GraphIDByFullName(req.CurNode)
		if graphName != "" {
			s.metadata.GraphName = graphName
		}
		s.metadata.NodeName = s.graphs.NodeNameByFullName(req.CurNode, s.metadata.GraphName)
	}
	s.putMetadataEvent()
}

// sendReceivedTensorTagLocked tells the UI a requested tensor landed.
func (s *Server) sendReceivedTensorTagLocked() {
	if s.view == nil || s.view.waitForTensor {
		return
	}
	s.events.Put(Event{
		"receive_tensor": s.view.cmd,
		"metadata":       s.metadataLocked(),
	})
	s.view = nil
}

// drainPendingHitsLocked moves received hit reports into the recorder and
// flags the UI.
func (s *Server) drainPendingHitsLocked() {
	if len(s.pendingHits) == 0 {
		return
	}
	hits := s.pendingHits
	s.pendingHits = nil
	s.hits.Put(map[int][]watchpoint.Hit{0: hits})
	s.events.Put(Event{"receive_watchpoint_hits": true})
}

// dealWithOldCommandLocked drains queued commands first, then replays the
// cached run remainder. A malformed remainder is discarded.
func (s *Server) dealWithOldCommandLocked() *Reply {
	for s.commands.Has(s.pos) {
		if reply := s.getNextCommandLocked(); reply != nil {
			return reply
		}
	}
	if s.oldRun == nil {
		return nil
	}
	if !s.oldRun.valid() {
		s.logger.Warn("invalid cached run command discarded",
			"left_steps", s.oldRun.leftSteps, "node_name", s.oldRun.nodeName)
		s.oldRun = nil
		return nil
	}
	if s.oldRun.leftSteps != 0 {
		return s.continueStepLocked()
	}
	return s.continueNodeLocked()
}

// continueStepLocked emits a single-step run command and decrements the
// remainder; -1 keeps running until the training ends.
func (s *Server) continueStepLocked() *Reply {
	left := s.oldRun.leftSteps
	if left > 0 {
		left--
	} else {
		left = -1
	}
	if left == 0 {
		s.oldRun = nil
	} else {
		s.oldRun.leftSteps = left
	}
	s.logger.Debug("replay step run command", "left_steps", left)
	return &Reply{Run: &RunCommand{Level: RunLevelStep, Steps: 1}}
}

// continueNodeLocked emits a run-to-node command, resolving instantly when
// the current node is the target.
func (s *Server) continueNodeLocked() *Reply {
	if s.metadata.FullName == s.oldRun.nodeName {
		s.logger.Info("executed to target node", "node", s.oldRun.nodeName)
		s.oldRun = nil
		return nil
	}
	s.logger.Debug("replay node run command", "target", s.oldRun.nodeName)
	return &Reply{Run: &RunCommand{Level: RunLevelNode}}
}

// waitForNextCommand blocks until a command arrives or the session leaves
// the waiting state.
func (s *Server) waitForNextCommand(ctx context.Context) *Reply {
	s.mu.Lock()
	if s.status != StatusMismatch {
		s.status = StatusWaiting
		s.putMetadataEvent()
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.status == StatusRunning || s.status == StatusPending {
			s.mu.Unlock()
			return nil
		}
		pos := s.pos
		s.mu.Unlock()

		if ctx.Err() != nil {
			return nil
		}
		if _, _, ok := s.commands.Wait(pos, s.cfg.CommandPollInterval); !ok {
			continue
		}
		s.mu.Lock()
		reply := s.getNextCommandLocked()
		s.mu.Unlock()
		if reply != nil {
			return reply
		}
	}
}

// getNextCommandLocked consumes one queued command and converts it into a
// trainer reply. It returns nil for commands absorbed server side.
func (s *Server) getNextCommandLocked() *Reply {
	cmd, next, ok := s.commands.Get(s.pos)
	if !ok {
		return nil
	}
	s.pos = next

	switch {
	case cmd.View != nil:
		return s.dealWithViewLocked(*cmd.View)
	case cmd.Run != nil:
		reply := s.dealWithRunLocked(*cmd.Run)
		s.putMetadataEvent()
		return reply
	case cmd.Exit:
		s.logger.Debug("clean cache for exit command")
		s.cleanForExitLocked()
		s.putMetadataEvent()
		return &Reply{Exit: true}
	case cmd.Set != nil:
		s.reg.Ack(cmd.Set.ID)
		return &Reply{Set: cmd.Set}
	default:
		s.logger.Debug("empty command ignored")
		return nil
	}
}

func (s *Server) dealWithViewLocked(view ViewCommand) *Reply {
	if len(view.Tensors) == 0 {
		s.logger.Debug("invalid view command ignored")
		return nil
	}
	s.view = &viewState{cmd: view, waitForTensor: true}
	return &Reply{View: &view}
}

func (s *Server) dealWithRunLocked(run RunCommand) *Reply {
	switch {
	case run.Level == RunLevelStep:
		if run.Steps == 0 {
			s.logger.Debug("pause training, waiting for next command")
			s.oldRun = nil
			s.status = StatusWaiting
			return nil
		}
		left := run.Steps - 1
		if left != 0 {
			if left < 0 {
				left = -1
			}
			s.oldRun = &oldRunState{leftSteps: left}
		}
		run.Steps = 1
	case run.NodeName != "":
		s.oldRun = &oldRunState{nodeName: run.NodeName}
		run.NodeName = ""
	}
	if run.Level == RunLevelRecheck {
		if rec, ok := s.hits.Rank(0, false); ok {
			rec.Clean()
		}
		s.logger.Debug("recheck cleans the hit cache")
	}
	s.status = StatusRunning
	return &Reply{Run: &run}
}

// cleanForExitLocked clears every cache, the departed trainer's
// watchpoints included, but keeps the session alive so the UI can observe
// the final metadata.
func (s *Server) cleanForExitLocked() {
	s.graphs.Clear()
	s.tensors.Reset()
	s.reg.Reset()
	s.hits.Clean()
	s.commands.Clean()
	s.oldRun = nil
	s.view = nil
	s.pendingHits = nil
}
