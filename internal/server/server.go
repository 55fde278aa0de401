// Package server exposes the hub's HTTP API: node status, group
// operations, playback commands, and a websocket change feed.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"roomctl/internal/api"
	"roomctl/internal/broadcast"
	"roomctl/internal/device"
	"roomctl/internal/group"
	"roomctl/internal/model"
	"roomctl/internal/registry"
	"roomctl/internal/role"
)

// eventBuffer bounds the per-subscriber outbound queue. A slow reader
// loses events rather than stalling the broadcaster.
const eventBuffer = 16

// Server provides the hub HTTP API.
type Server struct {
	listen   string
	reg      *registry.Registry
	coord    *group.Coordinator
	client   device.Client
	ticker   group.ForceTicker
	bus      *broadcast.Broadcaster
	upgrader websocket.Upgrader
}

// NewServer constructs the hub API server.
func NewServer(listen string, reg *registry.Registry, coord *group.Coordinator, client device.Client, ticker group.ForceTicker, bus *broadcast.Broadcaster) *Server {
	return &Server{
		listen: listen,
		reg:    reg,
		coord:  coord,
		client: client,
		ticker: ticker,
		bus:    bus,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.HandleFunc("/group/join", s.handleJoin)
	mux.HandleFunc("/group/leave", s.handleLeave)
	mux.HandleFunc("/group/volume", s.handleGroupVolume)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/events", s.handleEvents)
	return mux
}

// ListenAndServe runs the HTTP server.
func (s *Server) ListenAndServe() error {
	server := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("hub listening on %s", s.listen)
	return server.ListenAndServe()
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	nodes := s.reg.List()
	resp := api.NodesResponse{Nodes: make([]api.NodeStatus, 0, len(nodes))}
	for _, n := range nodes {
		status := nodeStatus(n)
		if hint, ok := s.reg.Pending(n.ID); ok {
			status.PendingRole = string(hint.Role)
			status.PendingMasterID = hint.MasterID
		}
		resp.Nodes = append(resp.Nodes, status)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MasterID == "" || len(req.Candidates) == 0 {
		writeJSONError(w, http.StatusBadRequest, "master_id and candidates are required")
		return
	}

	result, err := s.coord.Join(r.Context(), req.MasterID, req.Candidates)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}

	resp := api.JoinResponse{MasterID: result.MasterID}
	for _, m := range result.Results {
		out := api.MemberOutcome{NodeID: m.NodeID, OK: m.OK()}
		if m.Err != nil {
			out.Error = m.Err.Error()
		}
		resp.Results = append(resp.Results, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.LeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NodeID == "" {
		writeJSONError(w, http.StatusBadRequest, "node_id required")
		return
	}

	if err := s.coord.Leave(r.Context(), req.NodeID); err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGroupVolume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.GroupVolumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MasterID == "" {
		writeJSONError(w, http.StatusBadRequest, "master_id required")
		return
	}

	result, err := s.coord.SetGroupVolume(r.Context(), req.MasterID, req.Level)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}

	resp := api.GroupVolumeResponse{MasterID: result.MasterID, Level: result.Level}
	for _, t := range result.Targets {
		out := api.VolumeOutcome{NodeID: t.NodeID, Target: t.Target, OK: t.Err == nil}
		if t.Err != nil {
			out.Error = t.Err.Error()
		}
		resp.Targets = append(resp.Targets, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCommand sends a playback or local command. Transport actions
// aimed at a node that does not accept them are routed to its master.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req api.CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.NodeID == "" {
		writeJSONError(w, http.StatusBadRequest, "node_id required")
		return
	}

	node, ok := s.reg.Get(req.NodeID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown node %s", req.NodeID))
		return
	}

	cmd := device.Command{Action: req.Action}
	transport := false
	switch cmd.Action {
	case device.ActionPlay, device.ActionPause, device.ActionStop:
		transport = true
	case device.ActionSetVolume:
		if req.Volume == nil {
			writeJSONError(w, http.StatusBadRequest, "volume required for set_volume")
			return
		}
		cmd.Volume = req.Volume
	case device.ActionSetMute:
		if req.Mute == nil {
			writeJSONError(w, http.StatusBadRequest, "mute required for set_mute")
			return
		}
		cmd.Mute = req.Mute
	default:
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported action %q", req.Action))
		return
	}

	target := node
	if transport && !role.For(node.Role).AcceptsTransport && node.MasterID != "" {
		master, ok := s.reg.Get(node.MasterID)
		if !ok {
			writeJSONError(w, http.StatusConflict, fmt.Sprintf("master %s of %s not registered", node.MasterID, node.ID))
			return
		}
		log.Printf("routing %s for slave %s to master %s", cmd.Action, node.ID, master.ID)
		target = master
	}

	if err := s.client.SendCommand(r.Context(), target.Address, cmd); err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.ticker.ForceTick(target.ID)

	writeJSON(w, http.StatusOK, api.CommandResponse{NodeID: node.ID, RoutedTo: target.ID})
}

// handleEvents upgrades to a websocket and streams the IDs of nodes
// whose confirmed snapshot changed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := make(chan string, eventBuffer)
	token := s.bus.Subscribe(broadcast.Wildcard, func(nodeID string) {
		select {
		case events <- nodeID:
		default:
		}
	})
	defer s.bus.Unsubscribe(token)

	// Reads only serve to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case nodeID := <-events:
			if err := conn.WriteJSON(api.EventMessage{NodeID: nodeID}); err != nil {
				return
			}
		}
	}
}

func nodeStatus(n model.Node) api.NodeStatus {
	return api.NodeStatus{
		ID:        n.ID,
		Name:      n.Name,
		Address:   n.Address,
		Available: n.Available,
		Playback:  string(n.Playback),
		Volume:    n.Volume,
		Muted:     n.Muted,
		Role:      string(n.Role),
		MasterID:  n.MasterID,
		MemberIDs: n.MemberIDs,
		TrackID:   n.TrackID,
		Meta:      n.Meta,
		LastSeen:  n.LastSeen,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, group.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, group.ErrNotGroupLead):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
