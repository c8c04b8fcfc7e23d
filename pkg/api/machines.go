package api

import (
	"io"
	"net/http"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	var req types.Machine
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	machine, err := s.manager.CreateMachine(&req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, machine)
}

func (s *Server) handleListMachines(w http.ResponseWriter, r *http.Request) {
	// ?mac= resolves a MAC in any common notation to its machine.
	if mac := r.URL.Query().Get("mac"); mac != "" {
		machine, err := s.manager.GetMachineByMAC(mac)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, []*types.Machine{machine})
		return
	}
	machines, err := s.manager.ListMachines()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, machines)
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	machine, err := s.manager.GetMachine(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (s *Server) handleUpdateMachine(w http.ResponseWriter, r *http.Request) {
	var upd types.Machine
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, err)
		return
	}
	machine, err := s.manager.UpdateMachine(r.PathValue("id"), &upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (s *Server) handleDeleteMachine(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteMachine(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBootScript returns the machine's current iPXE script as plain
// text. 404 while no session is active, which chainloaded clients treat
// as "boot locally".
func (s *Server) handleBootScript(w http.ResponseWriter, r *http.Request) {
	script, err := s.manager.BootScript(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, script)
}
