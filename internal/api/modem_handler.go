package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/gsmlink/internal/at"
	"github.com/pccr10001/gsmlink/internal/command"
	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/logic"
	"github.com/pccr10001/gsmlink/internal/model"
	"github.com/pccr10001/gsmlink/internal/repository"
	"github.com/pccr10001/gsmlink/internal/worker"
	"github.com/pccr10001/gsmlink/pkg/logger"
	"gorm.io/gorm"
)

type ModemHandler struct {
	wm       *worker.Manager
	modems   *repository.ModemRepository
	settings *repository.SettingRepository
	archiver *logic.Archiver
}

// modemView is a registry row with the live session, when there is one.
type modemView struct {
	model.Modem
	Session *worker.Info `json:"session,omitempty"`
}

func NewModemHandler(db *gorm.DB, wm *worker.Manager, archiver *logic.Archiver) *ModemHandler {
	return &ModemHandler{
		wm:       wm,
		modems:   repository.NewModemRepository(db),
		settings: repository.NewSettingRepository(db),
		archiver: archiver,
	}
}

// respondError maps session errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var cmdErr *command.Error
	switch {
	case errors.Is(err, worker.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, worker.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, worker.ErrBusy), errors.Is(err, worker.ErrExists), errors.Is(err, worker.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, worker.ErrHalted):
		status = http.StatusLocked
	case errors.Is(err, worker.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.As(err, &cmdErr):
		status = http.StatusBadGateway
		if cmdErr.Result == at.TimeoutError {
			status = http.StatusGatewayTimeout
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// session finds the worker named by the :id parameter and checks access.
func (h *ModemHandler) session(c *gin.Context) (*worker.ModemWorker, bool) {
	w, ok := h.wm.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Modem not active (worker not found)"})
		return nil, false
	}
	if !canAccess(currentUser(c), w.ID()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for this modem"})
		return nil, false
	}
	return w, true
}

func (h *ModemHandler) ListModems(c *gin.Context) {
	user := currentUser(c)
	rows, err := h.modems.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	seen := make(map[string]bool)
	resp := make([]modemView, 0, len(rows))
	for _, m := range rows {
		if !canAccess(user, m.ID) {
			continue
		}
		v := modemView{Modem: m}
		if w, ok := h.wm.Get(m.ID); ok {
			info := w.Info()
			v.Session = &info
			seen[info.ID] = true
		} else {
			v.Status = "offline"
		}
		resp = append(resp, v)
	}
	// Sessions not in the registry yet, e.g. still initializing.
	for _, w := range h.wm.List() {
		info := w.Info()
		if seen[info.ID] || !canAccess(user, info.ID) {
			continue
		}
		resp = append(resp, modemView{Modem: *logic.ModemRecord(info), Session: &info})
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ModemHandler) GetModem(c *gin.Context) {
	id := c.Param("id")
	if w, ok := h.wm.Get(id); ok {
		if !canAccess(currentUser(c), w.ID()) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for this modem"})
			return
		}
		info := w.Info()
		v := modemView{Modem: *logic.ModemRecord(info), Session: &info}
		if m, err := h.modems.FindByID(info.ID); err == nil {
			v.Name = m.Name
		}
		c.JSON(http.StatusOK, v)
		return
	}

	m, err := h.modems.FindByID(id)
	if err != nil || !canAccess(currentUser(c), m.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Modem not found"})
		return
	}
	m.Status = "offline"
	c.JSON(http.StatusOK, modemView{Modem: *m})
}

// UpdateModem sets the display name.
func (h *ModemHandler) UpdateModem(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if w, ok := h.wm.Get(id); ok {
		id = w.ID()
	}
	if _, err := h.modems.FindByID(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Modem not found"})
		return
	}
	if err := h.modems.Rename(id, req.Name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update modem"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AddModem starts a session for a configuration record and keeps the
// record so the modem comes back after a restart of the service.
func (h *ModemHandler) AddModem(c *gin.Context) {
	var cfg config.ModemConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	w, err := h.wm.AddModem(c.Request.Context(), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.settings.Save(repository.SettingFromConfig(w.Config())); err != nil {
		logger.Log.Errorf("[%s] Failed to save modem setting: %v", w.PortName, err)
	}
	c.JSON(http.StatusCreated, w.Info())
}

func (h *ModemHandler) DeleteModem(c *gin.Context) {
	w, ok := h.wm.Get(c.Param("id"))
	if !ok {
		respondError(c, worker.ErrNotFound)
		return
	}
	if err := h.wm.RemoveModem(w.PortName); err != nil {
		respondError(c, err)
		return
	}
	if err := h.settings.Delete(w.PortName); err != nil {
		logger.Log.Errorf("[%s] Failed to delete modem setting: %v", w.PortName, err)
	}
	if err := h.modems.SetStatus(w.ID(), "offline"); err != nil {
		logger.Log.Warnf("[%s] Failed to mark modem offline: %v", w.PortName, err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *ModemHandler) Restart(c *gin.Context) {
	w, ok := h.session(c)
	if !ok {
		return
	}
	nw, err := h.wm.Restart(c.Request.Context(), w.PortName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nw.Info())
}

func (h *ModemHandler) Network(c *gin.Context) {
	w, ok := h.session(c)
	if !ok {
		return
	}
	st, err := w.NetworkStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *ModemHandler) GetMemory(c *gin.Context) {
	w, ok := h.session(c)
	if !ok {
		return
	}
	st, err := w.MemoryStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *ModemHandler) SetMemory(c *gin.Context) {
	w, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Storage string `json:"storage" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := w.SetMemory(c.Request.Context(), req.Storage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

var terminators = map[string]string{
	"":      command.CRLF,
	"crlf":  command.CRLF,
	"cr":    "\r",
	"ctrlz": command.CtrlZ,
	"esc":   "\x1b",
}

// ExecuteAT sends a raw command. The terminator is a name from terminators
// or the literal characters.
func (h *ModemHandler) ExecuteAT(c *gin.Context) {
	w, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Cmd        string `json:"cmd" binding:"required"`
		Terminator string `json:"terminator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	term, named := terminators[req.Terminator]
	if !named {
		term = req.Terminator
	}

	f, err := w.Passthrough(c.Request.Context(), req.Cmd, term)
	resp := gin.H{"response": f.Text, "result": f.Result.String()}
	if f.ErrorText != "" {
		resp["error_text"] = f.ErrorText
	}
	var cmdErr *command.Error
	if err != nil && !errors.As(err, &cmdErr) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ForceError runs a command the modem rejects, to check error reporting.
func (h *ModemHandler) ForceError(c *gin.Context) {
	w, ok := h.session(c)
	if !ok {
		return
	}
	err := w.ForceError(c.Request.Context())
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) {
		c.JSON(http.StatusOK, gin.H{"result": cmdErr.Result.String(), "error": cmdErr.Error()})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": at.Ok.String()})
}

func (h *ModemHandler) SendSMS(c *gin.Context) {
	w, ok := h.session(c)
	if !ok {
		return
	}
	var req worker.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := w.SendSMS(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.archiver != nil {
		if err := h.archiver.RecordSent(w.ID(), req, res); err != nil {
			logger.Log.Errorf("[%s] Failed to archive sent SMS: %v", w.PortName, err)
		}
	}
	c.JSON(http.StatusOK, res)
}

// ReadSMS reads stored messages now instead of waiting for the next poll.
func (h *ModemHandler) ReadSMS(c *gin.Context) {
	w, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"` // unread, read, all
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	status, err := command.ParseListStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := w.ReadSMS(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":       res.Messages,
		"status_reports": res.StatusReports,
		"expired":        res.Expired,
		"undecodable":    res.Undecodable,
		"deleted":        res.Deleted,
	})
}
